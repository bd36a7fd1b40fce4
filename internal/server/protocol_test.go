package server

import (
	"errors"
	"testing"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
)

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(CmdStatus, &StatusResult{Running: true, Runs: 3})
	if err != nil {
		t.Fatal(err)
	}

	env, payload, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if env.Command != CmdStatus {
		t.Errorf("command = %q, want %q", env.Command, CmdStatus)
	}

	status, err := DecodePayload[StatusResult](payload)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.Runs != 3 {
		t.Errorf("status = %+v", status)
	}
}

func TestEncodeWithoutPayload(t *testing.T) {
	data, err := Encode(CmdShutdown, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"command":"shutdown"}` {
		t.Errorf("got %s", data)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "hello"},
		{"missing command", `{"payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.line))
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestDecodePayloadMissing(t *testing.T) {
	if _, err := DecodePayload[RunResult](nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestNewRunResult(t *testing.T) {
	res := &pipeline.Result{
		RunID: "abcd1234",
		Name:  pipeline.ImageName{Registry: "ghcr.io", Name: "acme/web"},
		Tags:  []string{"1.0.0", "latest"},
		Image: &pipeline.Image{Archive: "/tmp/image.tar", Digest: "sha256:aaa"},
		Published: []pipeline.Published{
			{Tag: "1.0.0", Reference: "ghcr.io/acme/web:1.0.0@sha256:aaa"},
			{Tag: "latest", Err: pipeline.ErrPublishFailed},
		},
	}

	out := NewRunResult(res)

	if out.Image != "ghcr.io/acme/web" {
		t.Errorf("image = %q", out.Image)
	}
	if out.Archive != "/tmp/image.tar" || out.Digest != "sha256:aaa" {
		t.Errorf("archive/digest = %q %q", out.Archive, out.Digest)
	}
	if len(out.References) != 1 || out.References[0] != "ghcr.io/acme/web:1.0.0@sha256:aaa" {
		t.Errorf("references = %v", out.References)
	}
	if len(out.Published) != 2 || out.Published[1].Error == "" {
		t.Errorf("published = %+v", out.Published)
	}
}
