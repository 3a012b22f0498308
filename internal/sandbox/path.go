// Package sandbox enforces the client-side trust boundary: every file
// path and every shell command a tool touches is validated here before
// any implementation sees it.
package sandbox

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// IgnoreFileName is the workspace-root ignore file, one gitignore-style
// glob per non-comment line.
const IgnoreFileName = ".gambiarraignore"

// defaultIgnorePatterns always apply, whether or not an ignore file exists.
var defaultIgnorePatterns = []string{
	".git/**", ".git",
	"node_modules/**", "node_modules",
	"__pycache__/**", "__pycache__",
	"*.pyc", "*.pyo",
	".env", ".env.*",
	"*.log",
	".DS_Store", "Thumbs.db",
}

// suspiciousSequences are rejected before any normalisation happens.
// Percent forms cover single and double URL encoding plus UTF-8 overlongs.
var suspiciousSequences = []string{
	"../", "..\\",
	"%2e%2e", "%252e%252e",
	"%c0%af", "%c0%5c",
}

// Path sandbox errors.
var (
	ErrEmptyPath       = errors.New("path is empty")
	ErrTraversal       = errors.New("path contains a traversal sequence")
	ErrOutsideRoot     = errors.New("path resolves outside the workspace root")
	ErrIgnoredPath     = errors.New("path matches an ignore pattern")
	ErrBackslashInPath = errors.New("path contains backslashes")
)

// PathSandbox validates workspace paths against the root boundary and
// the active ignore patterns. Read-only after construction.
type PathSandbox struct {
	root     string
	patterns []string
}

// NewPathSandbox resolves the workspace root and loads ignore patterns
// from the defaults plus any .gambiarraignore at the root.
func NewPathSandbox(root string) (*PathSandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	patterns := make([]string, 0, len(defaultIgnorePatterns))
	patterns = append(patterns, defaultIgnorePatterns...)
	extra, err := loadIgnoreFile(filepath.Join(abs, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, extra...)
	return &PathSandbox{root: abs, patterns: patterns}, nil
}

// Root returns the absolute workspace root.
func (s *PathSandbox) Root() string {
	return s.root
}

// Validate screens, resolves, and bounds-checks an input path, returning
// the absolute target on success.
func (s *PathSandbox) Validate(input string) (string, error) {
	clean := strings.TrimSpace(input)
	if clean == "" {
		return "", ErrEmptyPath
	}
	if err := screenSuspicious(clean); err != nil {
		return "", err
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(s.root, clean)
	}
	target, err := resolveSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(s.root, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrOutsideRoot
	}
	if rel != "." {
		if pattern, matched := s.matchIgnore(filepath.ToSlash(rel)); matched {
			return "", fmt.Errorf("%w: %q matches %q", ErrIgnoredPath, rel, pattern)
		}
	}
	return target, nil
}

// screenSuspicious rejects traversal and encoding tricks before any
// resolution. Input is re-screened after up to three URL-decode rounds.
func screenSuspicious(input string) error {
	candidate := input
	for round := 0; round <= 3; round++ {
		lower := strings.ToLower(candidate)
		for _, seq := range suspiciousSequences {
			if strings.Contains(lower, seq) {
				return ErrTraversal
			}
		}
		if runtime.GOOS != "windows" && strings.Contains(candidate, "\\") {
			return ErrBackslashInPath
		}
		decoded, err := url.QueryUnescape(candidate)
		if err != nil || decoded == candidate {
			break
		}
		candidate = decoded
	}
	return nil
}

// resolveSymlinks follows symlinks on the deepest existing ancestor so a
// not-yet-created file still resolves inside its real parent directory.
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	dir, base := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)
	if dir == path {
		return path, nil
	}
	parent, err := resolveSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

// matchIgnore tests the workspace-relative path and each successive
// prefix so a directory rule blocks its descendants.
func (s *PathSandbox) matchIgnore(rel string) (string, bool) {
	prefixes := pathPrefixes(rel)
	for _, pattern := range s.patterns {
		for _, prefix := range prefixes {
			if matchPattern(pattern, prefix) {
				return pattern, true
			}
		}
	}
	return "", false
}

func pathPrefixes(rel string) []string {
	segments := strings.Split(rel, "/")
	prefixes := make([]string, 0, len(segments))
	for i := 1; i <= len(segments); i++ {
		prefixes = append(prefixes, strings.Join(segments[:i], "/"))
	}
	return prefixes
}

// matchPattern implements the gitignore-style subset the sandbox needs:
// '*' within a segment, '?', and '**' across segments. Patterns without
// a slash also match against the final path segment.
func matchPattern(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		if segmentMatch(pattern, lastSegment(rel)) {
			return true
		}
	}
	return globMatch(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func lastSegment(rel string) string {
	if idx := strings.LastIndexByte(rel, '/'); idx >= 0 {
		return rel[idx+1:]
	}
	return rel
}

func globMatch(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}
	if pattern[0] == "**" {
		for skip := 0; skip <= len(segments); skip++ {
			if globMatch(pattern[1:], segments[skip:]) {
				return true
			}
		}
		return false
	}
	if len(segments) == 0 {
		return false
	}
	if !segmentMatch(pattern[0], segments[0]) {
		return false
	}
	return globMatch(pattern[1:], segments[1:])
}

func segmentMatch(pattern, segment string) bool {
	matched, err := filepath.Match(pattern, segment)
	return err == nil && matched
}

func loadIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return patterns, nil
}
