package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const DefaultLocation = "/etc/filebox/config.yml"

var (
	mu      sync.RWMutex
	_config *Configuration
)

type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if the service should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool

	System   SystemConfiguration  `json:"system" yaml:"system"`
	Archives ArchiveConfiguration `json:"archives" yaml:"archives"`
	Api      ApiConfiguration     `json:"api" yaml:"api"`
}

// Defines the configuration for the HTTP API exposed by the service.
type ApiConfiguration struct {
	// The interface that the internal webserver should bind to.
	Host string `default:"0.0.0.0" yaml:"host"`

	// The port that the internal webserver should bind to.
	Port int `default:"5006" yaml:"port"`

	// The maximum size for files uploaded through the API in MiB. A value of
	// zero disables the limit.
	UploadLimit int64 `default:"100" json:"upload_limit" yaml:"upload_limit"`

	// Determines if the /metrics endpoint exposing Prometheus metrics is
	// registered.
	Metrics bool `default:"true" yaml:"metrics"`
}

// Defines how zip archives are built by the compress operation.
type ArchiveConfiguration struct {
	// CompressionLevel is the level of compression used when building an
	// archive. One of "none", "best_speed", or "best_compression".
	CompressionLevel string `default:"best_speed" json:"compression_level" yaml:"compression_level"`

	// WriteLimit is the maximum number of MiB per second written to disk while
	// an archive is being built. A value of zero disables the limit.
	WriteLimit int `default:"0" json:"write_limit" yaml:"write_limit"`
}

// NewAtPath creates a new struct and set the path where it should be stored.
// This function does not modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Configures the default values for many of the configuration options present
	// in the structs. Values set in the configuration file will be overridden
	// once the file is read.
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	c.path = path
	return &c, nil
}

// Set the global configuration instance. This is a blocking operation such that
// anything trying to set a different configuration value, or read the
// configuration will be paused until it is complete.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// SetDebugViaFlag turns on debug mode for the global configuration when the
// command line flag asks for it, regardless of the configuration file.
func SetDebugViaFlag(d bool) {
	mu.Lock()
	if _config != nil && d {
		_config.Debug = true
	}
	mu.Unlock()
}

// Get returns the global configuration instance. This is a thread-safe
// operation that will block if the configuration is presently being modified.
//
// Be aware that a pointer is returned, so modifying its fields outside of Set
// is not safe.
func Get() *Configuration {
	mu.RLock()
	defer mu.RUnlock()
	if _config == nil {
		c, _ := NewAtPath("")
		return c
	}
	return _config
}

// FromFile reads the configuration from the provided file and stores it in the
// global singleton for this instance.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}
	// Replace environment variables within the configuration file with their
	// values from the host system.
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), c); err != nil {
		return errors.WrapIf(err, "config: failed to parse configuration file")
	}
	if err := c.validate(); err != nil {
		return err
	}
	// Store this configuration in the global state.
	Set(c)
	return nil
}

// WriteToDisk writes the configuration to the path it was created with. The
// file is only readable by the owner since it describes the host layout.
func (c *Configuration) WriteToDisk() error {
	if c.path == "" {
		return errors.New("config: cannot write configuration, no path defined in struct")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(c.path, b, 0o600))
}

// GetPath returns the location of the configuration file.
func (c *Configuration) GetPath() string {
	return c.path
}

func (c *Configuration) validate() error {
	switch strings.ToLower(c.Archives.CompressionLevel) {
	case "none", "best_speed", "best_compression":
		c.Archives.CompressionLevel = strings.ToLower(c.Archives.CompressionLevel)
	default:
		return errors.Errorf("config: invalid archives.compression_level %q", c.Archives.CompressionLevel)
	}
	if c.Api.Port <= 0 || c.Api.Port > 65535 {
		return errors.Errorf("config: invalid api.port %d", c.Api.Port)
	}
	if c.System.RootDirectory == "" {
		return errors.New("config: system.root_directory must not be empty")
	}
	return nil
}
