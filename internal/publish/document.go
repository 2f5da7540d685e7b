package publish

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hotovec/mails/internal/errors"
)

// Document is one built email read back from the output tree.
type Document struct {
	// Name is the output path without its extension, slash separated.
	Name string
	Path string
	HTML []byte
}

// Title returns the document's <title>, or its name.
func (d *Document) Title() string {
	if title := Title(d.HTML); title != "" {
		return title
	}
	return path.Base(d.Name)
}

// LoadDocuments reads every .html file under dir, skipping the asset
// directories, in path order.
func LoadDocuments(dir string) ([]*Document, error) {
	var docs []*Document
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == "assets" || rel == "css" {
				return filepath.SkipDir
			}
			return nil
		}
		if path.Ext(rel) != ".html" {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		docs = append(docs, &Document{
			Name: strings.TrimSuffix(rel, ".html"),
			Path: rel,
			HTML: content,
		})
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("read documents in %s", dir), err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

var imageRefPattern = regexp.MustCompile(`=(['"])(/?assets/img)`)

// RewriteImageURLs points attribute values starting with assets/img at
// base. An empty base leaves doc unchanged. Only submission copies are
// rewritten; the build output keeps relative paths.
func RewriteImageURLs(doc []byte, base string) []byte {
	if base == "" {
		return doc
	}
	return imageRefPattern.ReplaceAllFunc(doc, func(m []byte) []byte {
		out := make([]byte, 0, len(base)+2)
		out = append(out, '=', m[1])
		return append(out, base...)
	})
}

var (
	titleSelector = cascadia.MustCompile("title")
	imageSelector = cascadia.MustCompile("img[src]")
)

// Title extracts the text of the first <title> element.
func Title(doc []byte) string {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return ""
	}
	n := cascadia.Query(root, titleSelector)
	if n == nil || n.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

// ImageSources returns the distinct local src values of <img> elements in
// document order. Absolute URLs are skipped.
func ImageSources(doc []byte) []string {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, n := range cascadia.QueryAll(root, imageSelector) {
		for _, a := range n.Attr {
			if a.Key != "src" {
				continue
			}
			src := strings.TrimSpace(a.Val)
			if src == "" || seen[src] || isRemote(src) {
				continue
			}
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http:") ||
		strings.HasPrefix(lower, "https:") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "cid:")
}
