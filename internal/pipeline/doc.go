// Package pipeline builds a container image from a source tree and publishes
// it under a list of tags.
//
// A run has two stages and a publish step. The build stage copies the
// filtered source tree into a container started from the build base image,
// runs the build steps, and hands a lazy handle to the artifact directory to
// the runtime stage. The runtime stage starts from the runtime base image,
// provisions it, copies the artifact and the filtered source tree in, fixes
// ownership, and commits the image with its environment, ports, health
// check, entrypoint, and labels. The publisher then authenticates once and
// pushes the committed image under every resolved tag.
//
// Containers and registries are reached through the [Engine] and [Registry]
// interfaces, so the same pipeline runs against containerd, the Docker
// Engine API, or a test double.
//
// Example usage:
//
//	cfg, err := pipeline.Preset("static-nginx")
//	if err != nil {
//	    return err
//	}
//
//	src, err := source.Open(".")
//	if err != nil {
//	    return err
//	}
//
//	result, err := pipeline.Run(ctx, engine, registry, pipeline.Options{
//	    Config:   cfg,
//	    Source:   src,
//	    Registry: "ghcr.io",
//	    Image:    "Acme/Web",
//	    Tags:     "v1.2.0,latest",
//	    Credentials: &pipeline.Credentials{
//	        Username: "ci",
//	        Secret:   pipeline.NewSecret(token),
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//
//	for _, ref := range result.References() {
//	    fmt.Println(ref)
//	}
package pipeline
