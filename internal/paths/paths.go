package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "cruxpipe"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Pipeline configuration file names, in lookup order.
var pipelineFiles = []string{"pipeline.yaml", "pipeline.yml", "pipeline.toml"}

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/cruxpipe or /run/user/<uid>/cruxpipe
//	macOS:   ~/Library/Caches/cruxpipe/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

// Default path to the Unix domain socket of the daemon.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxpipe/cruxpipe.sock
//	macOS:   ~/Library/Caches/cruxpipe/run/cruxpipe.sock
func Socket() string {
	return filepath.Join(Runtime(), appName+".sock")
}

// Default path to the daemon PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxpipe/cruxpipe.pid
//	macOS:   ~/Library/Caches/cruxpipe/run/cruxpipe.pid
func PIDFile() string {
	return filepath.Join(Runtime(), appName+".pid")
}

// Path of the user's default pipeline configuration, or "" if none exists.
//
// $XDG_CONFIG_HOME/cruxpipe is searched first, then each entry of
// $XDG_CONFIG_DIRS.
//
//	Linux:   ~/.config/cruxpipe/pipeline.yaml
//	macOS:   ~/Library/Application Support/cruxpipe/pipeline.yaml
func PipelineConfig() string {
	for _, name := range pipelineFiles {
		if p, err := xdg.SearchConfigFile(filepath.Join(appName, name)); err == nil {
			return p
		}
	}
	return ""
}

// Directory receiving the image archive of a run.
//
//	Linux:   ~/.cache/cruxpipe/images/<run>
//	macOS:   ~/Library/Caches/cruxpipe/images/<run>
func Output(runID string) string {
	return filepath.Join(xdg.CacheHome, appName, "images", runID)
}
