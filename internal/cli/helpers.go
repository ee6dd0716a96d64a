package cli

import (
	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/config"
	"github.com/daydemir/autopilot/internal/display"
	"github.com/daydemir/autopilot/internal/logging"
	"github.com/daydemir/autopilot/internal/workspace"
)

// session is the workspace, config and output shared by commands
type session struct {
	dir     string
	cfg     *config.Config
	logger  *zap.Logger
	display *display.Display
}

func openSession() (*session, error) {
	dir := workspaceDir
	if dir == "" {
		found, err := workspace.Find()
		if err != nil {
			return nil, err
		}
		dir = found
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return &session{
		dir:     dir,
		cfg:     cfg,
		logger:  logger,
		display: display.NewWithOptions(noColor),
	}, nil
}

// path resolves a configured path against the workspace
func (s *session) path(p string) string {
	return config.Resolve(s.dir, p)
}

func (s *session) close() {
	_ = logging.Sync(s.logger)
}
