// Package logs writes per-attempt command transcripts as markdown.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one command's captured output
type Entry struct {
	Stage    string // build | validation
	Command  string
	Output   string
	Duration time.Duration
	Failed   bool
	TimedOut bool
}

// Transcript collects the commands run during one attempt
type Transcript struct {
	PhaseID      string
	AttemptIndex int
	Started      time.Time
	Entries      []Entry
}

// NewTranscript starts an empty transcript
func NewTranscript(phaseID string, attemptIndex int, started time.Time) *Transcript {
	return &Transcript{PhaseID: phaseID, AttemptIndex: attemptIndex, Started: started}
}

// Add appends an entry. Not safe for concurrent use.
func (t *Transcript) Add(e Entry) {
	t.Entries = append(t.Entries, e)
}

// Markdown renders the transcript
func (t *Transcript) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Phase %s, attempt %d\n\n", t.PhaseID, t.AttemptIndex+1)
	fmt.Fprintf(&sb, "Started: %s\n\n", t.Started.Format("2006-01-02 15:04:05"))
	sb.WriteString("---\n\n")

	for _, e := range t.Entries {
		result := "ok"
		switch {
		case e.TimedOut:
			result = "timed out"
		case e.Failed:
			result = "failed"
		}
		fmt.Fprintf(&sb, "## %s: `%s` (%s, %s)\n\n", strings.ToUpper(e.Stage), e.Command, result, e.Duration.Round(time.Millisecond))
		sb.WriteString("```\n")
		sb.WriteString(strings.TrimRight(e.Output, "\n"))
		sb.WriteString("\n```\n\n---\n\n")
	}
	return sb.String()
}

// FileInfo describes a written transcript
type FileInfo struct {
	PhaseID string
	Path    string
	ModTime time.Time
}

// Writer stores transcripts under one directory per phase
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir (e.g. .autopilot/logs)
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the root directory
func (w *Writer) Dir() string {
	return w.dir
}

// Write stores t and returns the file path
func (w *Writer) Write(t *Transcript) (string, error) {
	phaseDir := filepath.Join(w.dir, t.PhaseID)
	if err := os.MkdirAll(phaseDir, 0755); err != nil {
		return "", fmt.Errorf("cannot create log directory: %w", err)
	}

	name := fmt.Sprintf("%s-attempt-%02d.md", t.Started.Format("2006-01-02-15-04-05"), t.AttemptIndex+1)
	path := filepath.Join(phaseDir, name)
	if err := os.WriteFile(path, []byte(t.Markdown()), 0644); err != nil {
		return "", fmt.Errorf("cannot write log file: %w", err)
	}
	return path, nil
}

// List returns transcripts oldest first. An empty phaseID lists every phase.
func (w *Writer) List(phaseID string) ([]FileInfo, error) {
	var phases []string
	if phaseID != "" {
		phases = []string{phaseID}
	} else {
		entries, err := os.ReadDir(w.dir)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read log directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				phases = append(phases, e.Name())
			}
		}
	}

	var files []FileInfo
	for _, phase := range phases {
		entries, err := os.ReadDir(filepath.Join(w.dir, phase))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read log directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, FileInfo{
				PhaseID: phase,
				Path:    filepath.Join(w.dir, phase, e.Name()),
				ModTime: info.ModTime(),
			})
		}
	}

	// File names start with the attempt time
	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i].Path) < filepath.Base(files[j].Path)
	})
	return files, nil
}
