// Package registry publishes committed images to OCI distribution
// registries.
//
// A [Registry] authenticates once per publish with static credentials and
// returns a [Session] that pushes an image archive under each requested
// reference. Pushes go through ORAS: the archive is opened as a read-only
// OCI layout and copied to the remote repository, so only blobs the
// registry lacks are uploaded. Rejected credentials surface as
// [pipeline.ErrAuthenticationFailed].
package registry
