// Package server implements the cruxpipe daemon and its client.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries a single request-response exchange: the client
// sends a newline-delimited JSON envelope, the server dispatches the
// command, and writes the result back before closing the connection.
//
// Supported commands are run, status, and shutdown. Run requests are
// executed by the job package against the daemon's container engine. A run
// is cancelled when its client disconnects.
//
// Example usage:
//
//	srv := server.New(server.Config{})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	res, err := server.Dial("").Run(ctx, &job.Request{...})
package server
