package cli

import (
	"os"
	"path/filepath"
)

const (
	// DefaultBaseDir is the per-user directory under $HOME.
	DefaultBaseDir = ".streamx"
	// DefaultConfigFile is the config file name inside DefaultBaseDir.
	DefaultConfigFile = "config.yaml"
)

// Paths locates the per-user streamx directories.
type Paths struct {
	HomeDir string
}

// NewPaths uses the current user's home directory.
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// BaseDir returns ~/.streamx.
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns ~/.streamx/config.yaml.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// DataDir returns ~/.streamx/data, the default replay storage directory.
func (p *Paths) DataDir() string {
	return filepath.Join(p.BaseDir(), "data")
}
