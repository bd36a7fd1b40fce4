package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/joho/godotenv"
)

// Reference schemes.
const (
	SchemeEnv   = "env"
	SchemeFile  = "file"
	SchemeAWSSM = "awssm"
)

// AWS Secrets Manager error codes.
const (
	codeNotFound     = "ResourceNotFoundException"
	codeAccessDenied = "AccessDeniedException"
)

// Subset of the AWS Secrets Manager client used for reading secrets.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolves secret reference URIs.
//
// Environment lookups see the process environment layered over any loaded
// .env files; a variable set in the process wins. The Secrets Manager
// client is created on first use from the default AWS configuration chain.
type Resolver struct {
	env map[string]string // Merged environment.

	once   sync.Once
	sm     SecretsManagerAPI
	smErr  error
	region string
}

// An option for [NewResolver].
type Option func(*Resolver)

// Uses the given Secrets Manager client instead of the default one.
func WithSecretsManager(api SecretsManagerAPI) Option {
	return func(r *Resolver) {
		r.sm = api
	}
}

// Sets the AWS region used by the default Secrets Manager client.
func WithRegion(region string) Option {
	return func(r *Resolver) {
		r.region = region
	}
}

// Creates a resolver, loading the given .env files.
func NewResolver(envFiles []string, opts ...Option) (*Resolver, error) {
	env := make(map[string]string)
	if len(envFiles) > 0 {
		loaded, err := godotenv.Read(envFiles...)
		if err != nil {
			return nil, wrap(ErrSecret, err)
		}
		env = loaded
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	r := &Resolver{env: env}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Looks up a variable in the merged environment.
func (r *Resolver) Lookup(key string) (string, bool) {
	v, ok := r.env[key]
	return v, ok
}

// Returned for references that cannot be resolved; it names no part of the
// input.
var errMalformed = wrapf(ErrScheme, "want env:VAR, file:PATH, or awssm:NAME[#KEY]")

// Resolves a reference URI to its secret value.
//
// Errors never contain the value. A malformed reference is not echoed
// either, since it may be a secret passed by mistake.
func (r *Resolver) Resolve(ctx context.Context, ref string) (pipeline.Secret, error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok || rest == "" {
		return pipeline.Secret{}, errMalformed
	}

	var (
		value string
		err   error
	)
	switch scheme {
	case SchemeEnv:
		value, err = r.fromEnv(rest)
	case SchemeFile:
		value, err = fromFile(rest)
	case SchemeAWSSM:
		value, err = r.fromSecretsManager(ctx, rest)
	default:
		return pipeline.Secret{}, errMalformed
	}
	if err != nil {
		return pipeline.Secret{}, err
	}
	if value == "" {
		return pipeline.Secret{}, wrapf(ErrEmpty, "%s", ref)
	}

	slog.Debug("secret resolved", "scheme", scheme)
	return pipeline.NewSecret(value), nil
}

func (r *Resolver) fromEnv(name string) (string, error) {
	v, ok := r.Lookup(name)
	if !ok {
		return "", wrapf(ErrNotFound, "environment variable %s is not set", name)
	}
	return v, nil
}

// Reads a secret file, dropping trailing line breaks.
func fromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", wrapf(ErrNotFound, "file %s does not exist", path)
		}
		return "", wrap(ErrSecret, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Reads "NAME" or "NAME#KEY" from Secrets Manager.
//
// With a key, the secret string must be a JSON object and the key's value a
// string.
func (r *Resolver) fromSecretsManager(ctx context.Context, ref string) (string, error) {
	name, key, _ := strings.Cut(ref, "#")

	api, err := r.secretsManager(ctx)
	if err != nil {
		return "", err
	}

	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case codeNotFound:
				return "", wrapf(ErrNotFound, "secrets manager secret %s", name)
			case codeAccessDenied:
				return "", wrapf(ErrAccess, "secrets manager secret %s", name)
			}
		}
		return "", wrap(ErrSecret, err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	}

	if key == "" {
		return value, nil
	}
	return jsonField(value, key)
}

// Extracts a string field from a JSON object.
//
// Decoding errors are not wrapped because they can quote the input.
func jsonField(doc, key string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return "", wrapf(ErrSecretValue, "key %s", key)
	}
	v, ok := fields[key].(string)
	if !ok {
		return "", wrapf(ErrSecretValue, "key %s", key)
	}
	return v, nil
}

// Returns the Secrets Manager client, creating it on first use.
func (r *Resolver) secretsManager(ctx context.Context) (SecretsManagerAPI, error) {
	r.once.Do(func() {
		if r.sm != nil {
			return
		}
		var opts []func(*config.LoadOptions) error
		if r.region != "" {
			opts = append(opts, config.WithRegion(r.region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			r.smErr = wrap(ErrSecret, err)
			return
		}
		r.sm = secretsmanager.NewFromConfig(cfg)
	})
	return r.sm, r.smErr
}
