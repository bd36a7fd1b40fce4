// Package docker runs pipeline stages through the Docker Engine API.
//
// It is the alternative to the containerd runtime for hosts where only a
// Docker daemon is reachable. Containers are created with a "sleep
// infinity" entrypoint and driven with exec; commits go through the
// daemon's commit endpoint and the result is saved as an OCI archive with
// the requested names.
package docker
