package config

import (
	"os"

	"emperror.dev/errors"
	"github.com/apex/log"
)

// Defines basic system configuration settings.
type SystemConfiguration struct {
	// The directory that every file operation is confined to.
	RootDirectory string `default:"/app/files" yaml:"root_directory"`

	// Directory where the service log file is written. Logs are only written to
	// the console when this is empty.
	LogDirectory string `default:"" yaml:"log_directory"`

	// The maximum depth the directory tree endpoint descends to.
	TreeDepth int `default:"64" yaml:"tree_depth"`

	// The number of workers used to stat entries when listing a directory.
	ListingWorkers int `default:"8" yaml:"listing_workers"`
}

// ConfigureDirectories ensures that the system directories exist. These are
// created so that only the owner can read the data, and no other users.
func (sc *SystemConfiguration) ConfigureDirectories() error {
	log.WithField("path", sc.RootDirectory).Debug("ensuring root directory exists")
	if err := os.MkdirAll(sc.RootDirectory, 0o755); err != nil {
		return errors.WithStack(err)
	}

	if sc.LogDirectory != "" {
		log.WithField("path", sc.LogDirectory).Debug("ensuring log directory exists")
		if err := os.MkdirAll(sc.LogDirectory, 0o700); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}
