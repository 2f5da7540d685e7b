package styles

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strings"
)

// SourceMap is a version 3 source map.
type SourceMap struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// InlineComment renders m as a sourceMappingURL comment carrying the map
// as a data URL.
func (m *SourceMap) InlineComment() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return "/*# sourceMappingURL=data:application/json;charset=utf-8;base64," +
		base64.StdEncoding.EncodeToString(data) + " */", nil
}

// origin is the source file and zero-based line a generated line starts in.
type origin struct {
	source int
	line   int
}

// sourceIndex numbers the files read while expanding a stylesheet.
type sourceIndex struct {
	root     string
	index    map[string]int
	names    []string
	contents []string
}

func newSourceIndex(root string) *sourceIndex {
	return &sourceIndex{root: root, index: make(map[string]int)}
}

// add registers a file once and returns its index. Names are relative to
// the entry's directory.
func (x *sourceIndex) add(abs, name, content string) int {
	if i, ok := x.index[abs]; ok {
		return i
	}
	rel, err := filepath.Rel(x.root, name)
	if err != nil {
		rel = name
	}
	x.index[abs] = len(x.names)
	x.names = append(x.names, filepath.ToSlash(rel))
	x.contents = append(x.contents, content)
	return len(x.names) - 1
}

// sourceMap maps every generated line to the start of its source line.
func (x *sourceIndex) sourceMap(origins []origin) *SourceMap {
	var sb strings.Builder
	prevSource, prevLine := 0, 0
	for i, o := range origins {
		if i > 0 {
			sb.WriteByte(';')
		}
		writeVLQ(&sb, 0)
		writeVLQ(&sb, o.source-prevSource)
		writeVLQ(&sb, o.line-prevLine)
		writeVLQ(&sb, 0)
		prevSource, prevLine = o.source, o.line
	}
	return &SourceMap{
		Version:        3,
		Sources:        x.names,
		SourcesContent: x.contents,
		Names:          []string{},
		Mappings:       sb.String(),
	}
}

const vlqDigits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// writeVLQ appends n as a base64 VLQ, sign in the lowest bit.
func writeVLQ(sb *strings.Builder, n int) {
	v := n << 1
	if n < 0 {
		v = (-n << 1) | 1
	}
	for {
		digit := v & 31
		v >>= 5
		if v > 0 {
			digit |= 32
		}
		sb.WriteByte(vlqDigits[digit])
		if v == 0 {
			return
		}
	}
}
