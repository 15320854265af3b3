// Package guard enforces the input policy: how long a message may be and
// which files a bulk import may read.
package guard

import (
	"fmt"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines the limits applied before anything reaches the store.
type Policy struct {
	MaxMessageRunes    int      `json:"max_message_runes"`
	MaxImportFiles     int      `json:"max_import_files"`
	AllowedImportGlobs []string `json:"allowed_import_globs"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxMessageRunes:    8000,
	MaxImportFiles:     200,
	AllowedImportGlobs: []string{"**/*.txt", "**/*.md"},
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckMessage rejects content longer than MaxMessageRunes. Zero disables the check.
func (g *Guard) CheckMessage(content string) *Violation {
	limit := g.policy.MaxMessageRunes
	if limit <= 0 {
		return nil
	}
	if n := utf8.RuneCountInString(content); n > limit {
		return &Violation{
			Rule:    "max_message_runes",
			Message: fmt.Sprintf("message is %d characters, limit is %d", n, limit),
		}
	}
	return nil
}

// CheckImportPath verifies a path, relative to the import root, matches one
// of the allowed globs.
func (g *Guard) CheckImportPath(path string) *Violation {
	slashed := filepath.ToSlash(path)
	for _, pattern := range g.policy.AllowedImportGlobs {
		if ok, err := doublestar.Match(pattern, slashed); err == nil && ok {
			return nil
		}
	}
	return &Violation{Rule: "allowed_import_globs", Message: "import not allowed: " + path}
}

// ExpandImport resolves pattern against the filesystem and keeps the files
// the policy allows, sorted. Exceeding MaxImportFiles is a violation.
func (g *Guard) ExpandImport(pattern string) ([]string, error) {
	if !doublestar.ValidatePathPattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to expand %q: %w", pattern, err)
	}

	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	var files []string
	for _, m := range matches {
		rel, err := filepath.Rel(filepath.FromSlash(base), m)
		if err != nil {
			continue
		}
		if g.CheckImportPath(rel) == nil {
			files = append(files, m)
		}
	}
	sort.Strings(files)

	if max := g.policy.MaxImportFiles; max > 0 && len(files) > max {
		return nil, &Violation{
			Rule:    "max_import_files",
			Message: fmt.Sprintf("%d files match, limit is %d", len(files), max),
		}
	}
	return files, nil
}
