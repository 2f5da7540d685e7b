package watcher

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/hotovec/mails/internal/config"
)

// Class groups changes that need the same rebuild.
type Class string

const (
	ClassPages     Class = "pages"
	ClassTemplates Class = "templates"
	ClassStyles    Class = "styles"
	ClassImages    Class = "images"
)

// Classifier maps changed paths to classes by the source directory they
// are under.
type Classifier struct {
	roots []classRoot
}

type classRoot struct {
	dir   string
	class Class
}

// NewClassifier covers the project's source directories and the shared
// style include paths.
func NewClassifier(layout config.Layout, includePaths []string) *Classifier {
	c := &Classifier{}
	c.add(layout.PagesDir(), ClassPages)
	c.add(layout.LayoutsDir(), ClassTemplates)
	c.add(layout.PartialsDir(), ClassTemplates)
	c.add(layout.HelpersDir(), ClassTemplates)
	c.add(layout.StylesDir(), ClassStyles)
	c.add(layout.ImagesDir(), ClassImages)
	for _, dir := range includePaths {
		c.add(dir, ClassStyles)
	}
	return c
}

func (c *Classifier) add(dir string, class Class) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	c.roots = append(c.roots, classRoot{dir: abs, class: class})
}

// Classify returns the class of path, or false when it is outside every
// source directory.
func (c *Classifier) Classify(path string) (Class, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	for _, root := range c.roots {
		if abs == root.dir || strings.HasPrefix(abs, root.dir+string(filepath.Separator)) {
			return root.class, true
		}
	}
	return "", false
}

// Classes returns the distinct classes of a batch, sorted.
func (c *Classifier) Classes(events []ChangeEvent) []Class {
	seen := make(map[Class]bool)
	for _, event := range events {
		if class, ok := c.Classify(event.Path); ok {
			seen[class] = true
		}
	}
	out := make([]Class, 0, len(seen))
	for class := range seen {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Filter accepts paths inside a source directory that are not editor
// temp files.
func (c *Classifier) Filter() FileFilter {
	return func(path string) bool {
		if !NoTempFilter(path) {
			return false
		}
		_, ok := c.Classify(path)
		return ok
	}
}

// Roots returns the directories to watch.
func (c *Classifier) Roots() []string {
	seen := make(map[string]bool)
	var out []string
	for _, root := range c.roots {
		if !seen[root.dir] {
			seen[root.dir] = true
			out = append(out, root.dir)
		}
	}
	return out
}
