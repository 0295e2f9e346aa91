// Package corpus implements the File Corpus (§4.1): enumerating target
// files, filtering by language extension, and exposing line-addressed
// content to the Matcher and Taint Core.
package corpus

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cvitracer/cvitracer/pkg/rule"
)

// specialPathFragments mark a file as "special" (§4.1): it must never
// produce a Finding (§4.4 pre-filter 2). A full walk skips node_modules
// directories outright; other special files are admitted to the corpus.
var specialPathFragments = []string{"/node_modules/", "/bower_components/"}

// IsSpecialFile reports whether path is a special file per §4.1.
func IsSpecialFile(path string) bool {
	norm := filepath.ToSlash(path)
	for _, frag := range specialPathFragments {
		if strings.Contains(norm, frag) {
			return true
		}
	}
	return strings.HasSuffix(norm, ".min.js")
}

// File is a single member of the corpus: an absolute path plus its path
// relative to the scan root.
type File struct {
	AbsPath string
	RelPath string
}

// Corpus enumerates and caches the contents of a target directory tree.
type Corpus struct {
	root  string
	files []File // sorted by RelPath, ascending (§4.2 "files in sorted path order")

	mu      sync.RWMutex
	content map[string][]byte   // AbsPath -> file bytes
	lines   map[string][]string // AbsPath -> lines, lazily split
}

// New walks root and builds the corpus. When explicit is non-empty, only
// those paths (relative or absolute) are admitted instead of a full walk —
// the engine's equivalent of the external `files` list in §6.
func New(root string, explicit []string) (*Corpus, error) {
	c := &Corpus{
		root:    root,
		content: make(map[string][]byte),
		lines:   make(map[string][]string),
	}

	if len(explicit) > 0 {
		for _, p := range explicit {
			abs := p
			if !filepath.IsAbs(abs) {
				abs = filepath.Join(root, p)
			}
			rel, err := filepath.Rel(root, abs)
			if err != nil {
				rel = abs
			}
			c.files = append(c.files, File{AbsPath: abs, RelPath: filepath.ToSlash(rel)})
		}
	} else {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				name := strings.ToLower(info.Name())
				if name == ".git" || name == "vendor" || name == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			c.files = append(c.files, File{AbsPath: path, RelPath: filepath.ToSlash(rel)})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(c.files, func(i, j int) bool { return c.files[i].RelPath < c.files[j].RelPath })
	return c, nil
}

// Root returns the scan root directory.
func (c *Corpus) Root() string { return c.root }

// Files returns the corpus members whose extension belongs to language,
// in sorted path order (§4.2 determinism guarantee).
func (c *Corpus) Files(language rule.Language) []File {
	out := make([]File, 0, len(c.files))
	for _, f := range c.files {
		ext := strings.ToLower(filepath.Ext(f.AbsPath))
		if rule.HasExtension(language, ext) {
			out = append(out, f)
		}
	}
	return out
}

// AllFiles returns every enumerated member regardless of language.
func (c *Corpus) AllFiles() []File {
	return append([]File(nil), c.files...)
}

// Read returns the full content of an AbsPath, reading and caching it on
// first access.
func (c *Corpus) Read(absPath string) ([]byte, error) {
	c.mu.RLock()
	if b, ok := c.content[absPath]; ok {
		c.mu.RUnlock()
		return b, nil
	}
	c.mu.RUnlock()

	b, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.content[absPath] = b
	c.mu.Unlock()
	return b, nil
}

// Line returns the 1-indexed line n of absPath, or "" if out of range.
func (c *Corpus) Line(absPath string, n int) string {
	lines, err := c.linesOf(absPath)
	if err != nil || n < 1 || n > len(lines) {
		return ""
	}
	return lines[n-1]
}

func (c *Corpus) linesOf(absPath string) ([]string, error) {
	c.mu.RLock()
	if ls, ok := c.lines[absPath]; ok {
		c.mu.RUnlock()
		return ls, nil
	}
	c.mu.RUnlock()

	b, err := c.Read(absPath)
	if err != nil {
		return nil, err
	}

	var ls []string
	scanner := bufio.NewScanner(b2r(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		ls = append(ls, scanner.Text())
	}

	c.mu.Lock()
	c.lines[absPath] = ls
	c.mu.Unlock()
	return ls, nil
}

// RelPath returns absPath relative to the scan root, used to strip any
// leaking absolute prefix before a Finding is emitted (§3 invariant,
// testable property 2).
func (c *Corpus) RelPath(absPath string) string {
	rel, err := filepath.Rel(c.root, absPath)
	if err != nil {
		return absPath
	}
	return filepath.ToSlash(rel)
}
