package runner

import (
	"os"
	"path/filepath"
)

// BuildSystem is a build toolchain detected in the workspace
type BuildSystem struct {
	Name       string // e.g., "npm", "go", "make", "cargo"
	BuildCmd   string
	TestCmd    string
	DetectedAt string
}

// buildSystemChecks are tried in order; the first marker file found wins
var buildSystemChecks = []struct {
	file     string
	name     string
	buildCmd string
	testCmd  string
}{
	{"go.mod", "go", "go build ./...", "go test ./..."},
	{"Cargo.toml", "cargo", "cargo build", "cargo test"},
	{"package.json", "npm", "npm run build", "npm test"},
	{"pyproject.toml", "python", "", "pytest"},
	{"Makefile", "make", "make", "make test"},
	{"build.gradle", "gradle", "./gradlew build", "./gradlew test"},
	{"pom.xml", "maven", "mvn compile", "mvn test"},
	{"*.xcodeproj", "xcode", "xcodebuild", "xcodebuild test"},
}

// DetectBuildSystem scans workDir for a known build system. Returns nil when none is found.
func DetectBuildSystem(workDir string) *BuildSystem {
	for _, check := range buildSystemChecks {
		var matches []string
		if containsGlob(check.file) {
			matches, _ = filepath.Glob(filepath.Join(workDir, check.file))
		} else {
			path := filepath.Join(workDir, check.file)
			if _, err := os.Stat(path); err == nil {
				matches = []string{path}
			}
		}
		if len(matches) > 0 {
			return &BuildSystem{
				Name:       check.name,
				BuildCmd:   check.buildCmd,
				TestCmd:    check.testCmd,
				DetectedAt: matches[0],
			}
		}
	}
	return nil
}

func containsGlob(s string) bool {
	for _, c := range s {
		if c == '*' || c == '?' || c == '[' {
			return true
		}
	}
	return false
}
