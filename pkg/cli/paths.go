package cli

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the configuration root (normally ~/.hfembed).
const HomeEnv = "HFEMBED_HOME"

// Paths locates the files a CLI keeps on disk. Each app gets its own
// directory under Root so several tools can share one root.
type Paths struct {
	AppName string
	Root    string
}

// NewPaths resolves the configuration root from $HFEMBED_HOME, falling back
// to ~/.hfembed.
func NewPaths(appName string) (*Paths, error) {
	root := os.Getenv(HomeEnv)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(home, DefaultBaseDir)
	}
	return &Paths{AppName: appName, Root: root}, nil
}

// AppDir is Root/<app>.
func (p *Paths) AppDir() string {
	return filepath.Join(p.Root, p.AppName)
}

// ConfigFile is Root/<app>/config.yaml, the contexts file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}
