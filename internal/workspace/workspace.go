package workspace

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/daydemir/autopilot/internal/config"
)

var ErrNoWorkspace = errors.New("no autopilot workspace found (run 'autopilot init' first)")
var ErrWorkspaceExists = errors.New("autopilot workspace already exists (use --force to overwrite)")

// Find walks up from cwd looking for .autopilot/ directory
func Find() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return FindFrom(dir)
}

// FindFrom walks up from dir looking for .autopilot/ directory
func FindFrom(dir string) (string, error) {
	for {
		path := filepath.Join(dir, config.Dir)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoWorkspace
		}
		dir = parent
	}
}

// Path returns the .autopilot directory path for a workspace
func Path(workspaceDir string) string {
	return filepath.Join(workspaceDir, config.Dir)
}
