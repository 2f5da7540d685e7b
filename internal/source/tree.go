// Package source loads a project's template sources into an in-memory tree
// partitioned by namespace.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/inful/mdfp"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/frontmatter"
)

// Namespace partitions the source tree.
type Namespace string

const (
	Pages    Namespace = "pages"
	Layouts  Namespace = "layouts"
	Partials Namespace = "partials"
	Helpers  Namespace = "helpers"
	Styles   Namespace = "styles"
)

// ArchiveDir is the pages sub-directory that is never compiled.
const ArchiveDir = "archive"

// File is one source file addressed by its logical path.
type File struct {
	// Path is relative to the namespace root and slash separated.
	Path      string
	Namespace Namespace
	Content   []byte
	Hash      string
}

// Name is the logical name used to reference layouts and partials: the
// path without its extension.
func (f *File) Name() string {
	return strings.TrimSuffix(f.Path, path.Ext(f.Path))
}

// OutputPath mirrors the page path with an .html extension.
func (f *File) OutputPath() string {
	return strings.TrimSuffix(f.Path, path.Ext(f.Path)) + ".html"
}

// Tree holds every source file of a project.
type Tree struct {
	files map[Namespace]map[string]*File
	mutex sync.RWMutex
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{files: make(map[Namespace]map[string]*File)}
}

// Add stores content under ns/logicalPath, replacing any previous file.
func (t *Tree) Add(ns Namespace, logicalPath string, content []byte) *File {
	f := &File{
		Path:      filepath.ToSlash(logicalPath),
		Namespace: ns,
		Content:   content,
		Hash:      Fingerprint(content),
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.files[ns] == nil {
		t.files[ns] = make(map[string]*File)
	}
	t.files[ns][f.Path] = f
	return f
}

// Get returns the file at ns/logicalPath.
func (t *Tree) Get(ns Namespace, logicalPath string) (*File, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	f, ok := t.files[ns][logicalPath]
	return f, ok
}

// Lookup returns the layout or partial with the given logical name.
func (t *Tree) Lookup(ns Namespace, name string) (*File, bool) {
	for _, f := range t.Files(ns) {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Files returns the files of one namespace sorted by path.
func (t *Tree) Files(ns Namespace) []*File {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make([]*File, 0, len(t.files[ns]))
	for _, f := range t.files[ns] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Pages is the listing of pages that will be compiled. Archived pages are
// never part of it.
func (t *Tree) Pages() []*File {
	all := t.Files(Pages)
	out := all[:0]
	for _, f := range all {
		if IsArchived(f.Path) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Hash is a digest over every file hash in the tree.
func (t *Tree) Hash() string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	keys := make([]string, 0)
	for ns, files := range t.files {
		for p, f := range files {
			keys = append(keys, string(ns)+"/"+p+"="+f.Hash)
		}
	}
	sort.Strings(keys)

	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:])
}

// IsArchived reports whether a page path lies under the archive directory.
func IsArchived(logicalPath string) bool {
	first, _, _ := strings.Cut(filepath.ToSlash(logicalPath), "/")
	return first == ArchiveDir
}

// Fingerprint hashes file content. Front matter and body are hashed as
// separate parts so reformatting the body alone changes the hash.
func Fingerprint(content []byte) string {
	front, body, had, err := frontmatter.Split(content)
	if err != nil || !had {
		return mdfp.CalculateFingerprintFromParts("", string(content))
	}
	return mdfp.CalculateFingerprintFromParts(strings.TrimSuffix(string(front), "\n"), string(body))
}

// Load reads pages, layouts, partials, helpers and styles of a project.
// Missing directories are treated as empty.
func Load(layout config.Layout) (*Tree, error) {
	tree := NewTree()

	sources := []struct {
		ns   Namespace
		dir  string
		keep func(rel string) bool
	}{
		{Pages, layout.PagesDir(), func(rel string) bool {
			return path.Ext(rel) == ".html" && !IsArchived(rel)
		}},
		{Layouts, layout.LayoutsDir(), isTemplate},
		{Partials, layout.PartialsDir(), isTemplate},
		{Helpers, layout.HelpersDir(), func(rel string) bool {
			switch path.Ext(rel) {
			case ".yml", ".yaml", ".json":
				return true
			}
			return false
		}},
		{Styles, layout.StylesDir(), func(rel string) bool {
			return path.Ext(rel) == ".scss" || path.Ext(rel) == ".css"
		}},
	}

	for _, src := range sources {
		if err := loadDir(tree, src.ns, src.dir, src.keep); err != nil {
			return nil, err
		}
	}

	return tree, nil
}

func isTemplate(rel string) bool {
	switch path.Ext(rel) {
	case ".html", ".hbs", ".handlebars", ".tmpl":
		return true
	}
	return false
}

func loadDir(tree *Tree, ns Namespace, dir string, keep func(rel string) bool) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if ns == Pages && rel == ArchiveDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !keep(rel) {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		tree.Add(ns, rel, content)
		return nil
	})
}
