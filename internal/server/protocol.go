package server

import (
	"encoding/json"
	"fmt"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
)

// Name of a daemon command or response kind.
type Command string

const (
	CmdRun      Command = "run"      // Execute a pipeline run.
	CmdStatus   Command = "status"   // Report daemon status.
	CmdShutdown Command = "shutdown" // Stop the daemon.
	CmdOK       Command = "ok"       // Successful response.
	CmdError    Command = "error"    // Failed response.
)

// Newline-delimited JSON message exchanged over the socket.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload of a [CmdError] response.
type ErrorResult struct {
	Message string     `json:"message"`
	Result  *RunResult `json:"result,omitempty"` // Partial run outcome, set when a publish failed.
}

// Payload of a successful [CmdRun] response.
type RunResult struct {
	RunID      string          `json:"run_id"`
	Image      string          `json:"image"`
	Tags       []string        `json:"tags"`
	Archive    string          `json:"archive"`
	Digest     string          `json:"digest"`
	References []string        `json:"references,omitempty"`
	Published  []PublishResult `json:"published,omitempty"`
}

// Outcome of one tag in a [RunResult].
type PublishResult struct {
	Tag       string `json:"tag"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// Payload of a successful [CmdStatus] response.
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Runs    int    `json:"runs"`
}

// Encodes a command and payload as a single JSON line without the trailing
// newline.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decodes a JSON line into its envelope and raw payload.
func Decode(line []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return &env, env.Payload, nil
}

// Decodes a payload into a value of type T.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrProtocol)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &v, nil
}

// Converts a pipeline result into its wire form.
func NewRunResult(res *pipeline.Result) *RunResult {
	out := &RunResult{
		RunID:      res.RunID,
		Image:      res.Name.Repository(),
		Tags:       res.Tags,
		References: res.References(),
	}
	if res.Image != nil {
		out.Archive = res.Image.Archive
		out.Digest = res.Image.Digest
	}
	for _, p := range res.Published {
		pr := PublishResult{Tag: p.Tag, Reference: p.Reference, Skipped: p.Skipped}
		if p.Err != nil {
			pr.Error = p.Err.Error()
		}
		out.Published = append(out.Published, pr)
	}
	return out
}
