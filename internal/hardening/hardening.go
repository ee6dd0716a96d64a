// Package hardening applies deterministic, pattern-based repairs to
// failures that do not need a diagnosis: stale lock files, missing
// directories and the like.
package hardening

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/orchestrator"
)

// Pattern is one known failure signature and its repair
type Pattern interface {
	ID() string
	// Match reports whether errorText shows this failure
	Match(errorText string) bool
	// Mitigate attempts the repair. It is only called after Match returned true.
	Mitigate(ctx context.Context, errorText string, mc orchestrator.MitigationContext) (*orchestrator.MitigationResult, error)
}

// Registry tries its patterns in order; the first match wins
type Registry struct {
	patterns []Pattern
	logger   *zap.Logger
}

// NewRegistry creates a registry over patterns
func NewRegistry(logger *zap.Logger, patterns ...Pattern) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{patterns: patterns, logger: logger.Named("hardening")}
}

// Default returns a registry with the built-in patterns
func Default(logger *zap.Logger) *Registry {
	return NewRegistry(logger, StaleLockfile{}, MissingDirectory{})
}

// Patterns returns the registered pattern IDs in match order
func (r *Registry) Patterns() []string {
	ids := make([]string, 0, len(r.patterns))
	for _, p := range r.patterns {
		ids = append(ids, p.ID())
	}
	return ids
}

// DetectAndMitigate implements orchestrator.Hardener.
// It returns nil when no pattern matches.
func (r *Registry) DetectAndMitigate(ctx context.Context, errorText string, mc orchestrator.MitigationContext) (*orchestrator.MitigationResult, error) {
	for _, p := range r.patterns {
		if !p.Match(errorText) {
			continue
		}
		log := r.logger.With(zap.String("pattern_id", p.ID()), zap.String("phase_id", mc.PhaseID))
		log.Debug("pattern matched")

		res, err := p.Mitigate(ctx, errorText, mc)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.ID(), err)
		}
		if res != nil {
			res.PatternID = p.ID()
			log.Info("mitigation attempted", zap.Bool("fixed", res.Fixed), zap.Strings("actions", res.ActionsTaken))
		}
		return res, nil
	}
	return nil, nil
}

// within reports whether path lies inside root
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolve makes path absolute against the workspace
func resolve(workspace, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workspace, path)
}

// StaleLockfile removes git lock files left behind by an interrupted git process.
// Only locks under a .git directory are touched: yarn.lock and friends are project files.
type StaleLockfile struct{}

var (
	lockfileSignals = regexp.MustCompile(`(?i)(index\.lock.*file exists|another git process seems to be running|unable to create '[^']+\.lock'|lock file .* exists|could not acquire lock)`)
	lockfileNamed   = regexp.MustCompile(`(?i)unable to create '([^']+\.lock)'`)
	lockfileGitPath = regexp.MustCompile(`(?:^|[\s'"])(\S*\.git[/\\]\S*?\.lock)\b`)
)

// defaultLockfiles are checked when the error names no path
var defaultLockfiles = []string{
	filepath.Join(".git", "index.lock"),
	filepath.Join(".git", "HEAD.lock"),
}

func (StaleLockfile) ID() string { return "stale_lockfile" }

func (StaleLockfile) Match(errorText string) bool {
	return lockfileSignals.MatchString(errorText)
}

// namedLockfiles returns the lock paths the error text names, in order and without repeats
func namedLockfiles(errorText string) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{lockfileNamed, lockfileGitPath} {
		for _, m := range re.FindAllStringSubmatch(errorText, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				paths = append(paths, m[1])
			}
		}
	}
	return paths
}

// inGitDir reports whether path has a .git component
func inGitDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

func (StaleLockfile) Mitigate(_ context.Context, errorText string, mc orchestrator.MitigationContext) (*orchestrator.MitigationResult, error) {
	res := &orchestrator.MitigationResult{}
	if mc.Workspace == "" {
		res.Suggestions = append(res.Suggestions, "remove the stale lock file by hand")
		return res, nil
	}

	var candidates []string
	for _, path := range namedLockfiles(errorText) {
		candidates = append(candidates, resolve(mc.Workspace, path))
	}
	if len(candidates) == 0 {
		for _, p := range defaultLockfiles {
			candidates = append(candidates, filepath.Join(mc.Workspace, p))
		}
	}

	for _, path := range candidates {
		if !within(mc.Workspace, path) {
			res.Suggestions = append(res.Suggestions, fmt.Sprintf("lock file %s is outside the workspace", path))
			continue
		}
		if !inGitDir(path) {
			res.Suggestions = append(res.Suggestions, fmt.Sprintf("lock file %s is not a git lock; left in place", path))
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("cannot remove lock file %s: %w", path, err)
		}
		res.ActionsTaken = append(res.ActionsTaken, "removed "+path)
	}

	res.Success = len(res.ActionsTaken) > 0
	res.Fixed = res.Success
	if !res.Fixed && len(res.Suggestions) == 0 {
		res.Suggestions = append(res.Suggestions, "no lock file found; check for a running git process")
	}
	return res, nil
}

// MissingDirectory creates a missing parent directory when it lies inside the phase scope
type MissingDirectory struct{}

var missingPath = regexp.MustCompile(`(?i)(?:open|stat|create|mkdir|lstat|cannot access)\s+'?([^\s':]+)'?:?\s+no such file or directory|directory '?([^\s']+)'? does not exist`)

func (MissingDirectory) ID() string { return "missing_directory" }

func (MissingDirectory) Match(errorText string) bool {
	return missingPath.MatchString(errorText)
}

func (MissingDirectory) Mitigate(_ context.Context, errorText string, mc orchestrator.MitigationContext) (*orchestrator.MitigationResult, error) {
	res := &orchestrator.MitigationResult{}

	for _, m := range missingPath.FindAllStringSubmatch(errorText, -1) {
		var dir string
		if m[1] != "" {
			dir = filepath.Dir(m[1])
		} else {
			dir = m[2]
		}
		if dir == "" || dir == "." {
			continue
		}
		abs := resolve(mc.Workspace, dir)

		if mc.Workspace == "" || !inScope(mc.Workspace, mc.ScopePaths, abs) {
			res.Suggestions = append(res.Suggestions, fmt.Sprintf("create directory %s", dir))
			continue
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("cannot create directory %s: %w", abs, err)
		}
		res.ActionsTaken = append(res.ActionsTaken, "created "+abs)
	}

	res.Success = len(res.ActionsTaken) > 0
	res.Fixed = res.Success
	return res, nil
}

// inScope reports whether path lies inside one of the phase's scope paths
func inScope(workspace string, scope []string, path string) bool {
	if !within(workspace, path) {
		return false
	}
	if len(scope) == 0 {
		return false
	}
	for _, s := range scope {
		if within(resolve(workspace, s), path) {
			return true
		}
	}
	return false
}
