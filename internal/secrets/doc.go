// Package secrets resolves registry secrets from a reference URI.
//
// Secrets are never passed on the command line. Instead the caller names
// where the value lives:
//
//	env:REGISTRY_TOKEN        environment variable (or a loaded .env file)
//	file:/run/secrets/token   file contents, trailing newline removed
//	awssm:ci/registry#token   AWS Secrets Manager secret, optional JSON key
//
// The resolved value is returned as a [pipeline.Secret], so it cannot leak
// through logs or error messages.
package secrets
