// Package styles expands the project stylesheet (imports, variables,
// line comments) into plain CSS and parses it into inlineable rules and
// retained at-rule blocks.
package styles

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hotovec/mails/internal/errors"
)

// Options locate the stylesheet sources.
type Options struct {
	// Entry is the path of the entry stylesheet.
	Entry string
	// IncludePaths are searched after the importing file's directory and
	// the entry's directory.
	IncludePaths []string
	// SourceMap requests a source map of the expanded CSS.
	SourceMap bool
	// Transpiler expands the entry. Nil uses the built-in preprocessor.
	Transpiler Transpiler
}

// Expansion is an entry stylesheet expanded into plain CSS.
type Expansion struct {
	CSS string
	// SourceMap is set when Options.SourceMap was.
	SourceMap *SourceMap
}

// Transpiler expands an entry stylesheet into plain CSS.
type Transpiler interface {
	Transpile(ctx context.Context, opts Options) (*Expansion, error)
}

// Builtin is the built-in preprocessor. It understands imports,
// variables, interpolation and line comments.
type Builtin struct{}

// Transpile implements Transpiler.
func (Builtin) Transpile(_ context.Context, opts Options) (*Expansion, error) {
	return Preprocess(opts)
}

// Preprocess expands opts.Entry into one CSS text.
func Preprocess(opts Options) (*Expansion, error) {
	if _, err := os.Stat(opts.Entry); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStyleSyntax,
			fmt.Sprintf("stylesheet entry %s", opts.Entry), err)
	}

	p := &preprocessor{
		dirs:      append([]string{filepath.Dir(opts.Entry)}, opts.IncludePaths...),
		vars:      make(map[string]string),
		lineStart: true,
		sources:   newSourceIndex(filepath.Dir(opts.Entry)),
	}
	if err := p.file(opts.Entry); err != nil {
		return nil, err
	}

	exp := &Expansion{CSS: p.out.String()}
	if opts.SourceMap {
		exp.SourceMap = p.sources.sourceMap(p.origins)
	}
	return exp, nil
}

type preprocessor struct {
	dirs  []string
	vars  map[string]string
	stack []string

	out       strings.Builder
	last      byte
	lineStart bool
	origins   []origin
	sources   *sourceIndex
}

func (p *preprocessor) file(name string) error {
	abs, err := filepath.Abs(name)
	if err != nil {
		abs = name
	}
	for i, seen := range p.stack {
		if seen == abs {
			chain := append(append([]string{}, p.stack[i:]...), abs)
			return errors.NewSyntaxError(name, 0, "import cycle: "+strings.Join(chain, " -> "))
		}
	}

	content, err := os.ReadFile(name)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeStyleSyntax, fmt.Sprintf("read %s", name), err)
	}

	p.stack = append(p.stack, abs)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()

	s := &scanner{
		p:         p,
		file:      name,
		source:    p.sources.add(abs, name, string(content)),
		src:       string(content),
		line:      1,
		stmtStart: true,
	}
	return s.run()
}

// resolve finds an imported stylesheet, trying partial (_name) and
// extension variants in the importing directory and then every search
// directory.
func (p *preprocessor) resolve(from, target string) (string, bool) {
	dir, base := path.Split(filepath.ToSlash(target))
	var names []string
	switch path.Ext(base) {
	case ".scss", ".css":
		names = []string{base, "_" + base}
	default:
		names = []string{base + ".scss", "_" + base + ".scss", base + ".css", "_" + base + ".css", base}
	}

	roots := append([]string{filepath.Dir(from)}, p.dirs...)
	for _, root := range roots {
		for _, name := range names {
			candidate := filepath.Join(root, filepath.FromSlash(dir), name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*`)
	varPattern   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_-]*)`)
	flagPattern  = regexp.MustCompile(`\s*!(default|global)\s*$`)
)

type scanner struct {
	p      *preprocessor
	file   string
	source int
	src    string
	pos    int
	line   int

	parens     int
	braceLines []int
	stmtStart  bool
}

func (s *scanner) syntaxError(format string, args ...any) error {
	return errors.NewSyntaxError(s.file, s.line, fmt.Sprintf(format, args...))
}

func (s *scanner) rest() string {
	return s.src[s.pos:]
}

// emit appends text that starts on the current source line and records
// where every generated line it opens came from.
func (s *scanner) emit(text string) {
	line := s.line
	for i := 0; i < len(text); i++ {
		if s.p.lineStart {
			s.p.origins = append(s.p.origins, origin{source: s.source, line: line - 1})
			s.p.lineStart = false
		}
		if text[i] == '\n' {
			line++
			s.p.lineStart = true
		}
	}
	if text != "" {
		s.p.out.WriteString(text)
		s.p.last = text[len(text)-1]
	}
}

func (s *scanner) emitByte(c byte) {
	if s.p.lineStart {
		s.p.origins = append(s.p.origins, origin{source: s.source, line: s.line - 1})
		s.p.lineStart = false
	}
	s.p.out.WriteByte(c)
	s.p.last = c
	if c == '\n' {
		s.p.lineStart = true
	}
}

func (s *scanner) run() error {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		rest := s.rest()

		switch {
		case c == '\n':
			s.emitByte(c)
			s.line++
			s.pos++
		case c == '"' || c == '\'':
			text, err := s.quoted()
			if err != nil {
				return err
			}
			s.emit(text)
			s.stmtStart = false
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return s.syntaxError("unterminated comment")
			}
			comment := rest[:end+4]
			s.emit(comment)
			s.line += strings.Count(comment, "\n")
			s.pos += len(comment)
		case strings.HasPrefix(rest, "//") && s.parens == 0:
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			s.pos += end
		case c == '(':
			s.parens++
			s.emitByte(c)
			s.pos++
			s.stmtStart = false
		case c == ')':
			if s.parens > 0 {
				s.parens--
			}
			s.emitByte(c)
			s.pos++
		case c == '{':
			s.braceLines = append(s.braceLines, s.line)
			s.emitByte(c)
			s.pos++
			s.stmtStart = true
		case c == '}':
			if len(s.braceLines) == 0 {
				return s.syntaxError("unexpected }")
			}
			s.braceLines = s.braceLines[:len(s.braceLines)-1]
			s.emitByte(c)
			s.pos++
			s.stmtStart = true
		case c == ';':
			s.emitByte(c)
			s.pos++
			s.stmtStart = true
		case c == '$':
			if err := s.variable(); err != nil {
				return err
			}
		case strings.HasPrefix(rest, "#{"):
			if err := s.interpolation(); err != nil {
				return err
			}
		case c == '@' && s.stmtStart && len(rest) >= 7 && strings.EqualFold(rest[:7], "@import"):
			if err := s.importRule(); err != nil {
				return err
			}
		case c == ' ' || c == '\t' || c == '\r':
			s.emitByte(c)
			s.pos++
		default:
			s.emitByte(c)
			s.pos++
			s.stmtStart = false
		}
	}

	if len(s.braceLines) > 0 {
		s.line = s.braceLines[len(s.braceLines)-1]
		return s.syntaxError("unclosed {")
	}
	return nil
}

// quoted consumes a string literal starting at pos.
func (s *scanner) quoted() (string, error) {
	quote := s.src[s.pos]
	for i := s.pos + 1; i < len(s.src); i++ {
		switch s.src[i] {
		case '\\':
			i++
		case '\n':
			return "", s.syntaxError("unterminated string")
		case quote:
			text := s.src[s.pos : i+1]
			s.pos = i + 1
			return text, nil
		}
	}
	return "", s.syntaxError("unterminated string")
}

// statement consumes up to the next ; outside strings and parentheses and
// returns the text before it.
func (s *scanner) statement() (string, error) {
	depth := 0
	start := s.pos
	for s.pos < len(s.src) {
		switch c := s.src[s.pos]; c {
		case '"', '\'':
			if _, err := s.quoted(); err != nil {
				return "", err
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
		case '\n':
			s.line++
		case '{', '}':
			if depth == 0 {
				return "", s.syntaxError("expected ; before %q", string(c))
			}
		case ';':
			if depth == 0 {
				text := s.src[start:s.pos]
				s.pos++
				return text, nil
			}
		}
		s.pos++
	}
	return "", s.syntaxError("expected ;")
}

func (s *scanner) variable() error {
	name := identPattern.FindString(s.src[s.pos+1:])
	if name == "" {
		s.emitByte('$')
		s.pos++
		s.stmtStart = false
		return nil
	}

	after := s.pos + 1 + len(name)
	j := after
	for j < len(s.src) && (s.src[j] == ' ' || s.src[j] == '\t') {
		j++
	}

	if s.stmtStart && j < len(s.src) && s.src[j] == ':' {
		s.pos = j + 1
		raw, err := s.statement()
		if err != nil {
			return err
		}
		value, err := s.substitute(raw)
		if err != nil {
			return err
		}

		isDefault := strings.Contains(value, "!default")
		value = strings.TrimSpace(flagPattern.ReplaceAllString(strings.TrimSpace(value), ""))
		if _, exists := s.p.vars[name]; !(exists && isDefault) {
			s.p.vars[name] = value
		}
		s.stmtStart = true
		return nil
	}

	value, ok := s.p.vars[name]
	if !ok {
		return s.syntaxError("undefined variable $%s", name)
	}
	s.emit(value)
	s.pos = after
	s.stmtStart = false
	return nil
}

func (s *scanner) substitute(text string) (string, error) {
	var missing string
	out := varPattern.ReplaceAllStringFunc(text, func(ref string) string {
		value, ok := s.p.vars[ref[1:]]
		if !ok && missing == "" {
			missing = ref
		}
		return value
	})
	if missing != "" {
		return "", s.syntaxError("undefined variable %s", missing)
	}
	return out, nil
}

func (s *scanner) interpolation() error {
	end := strings.IndexByte(s.rest(), '}')
	if end < 0 {
		return s.syntaxError("unterminated interpolation")
	}
	inner := strings.TrimSpace(s.rest()[2:end])
	value, err := s.substitute(inner)
	if err != nil {
		return err
	}
	s.emit(strings.Trim(value, `"'`))
	s.pos += end + 1
	s.stmtStart = false
	return nil
}

func (s *scanner) importRule() error {
	s.pos += len("@import")
	raw, err := s.statement()
	if err != nil {
		return err
	}

	for _, target := range splitImports(raw) {
		if isPlainImport(target) {
			s.emit("@import " + target + ";")
			continue
		}

		name := strings.Trim(target, `"'`)
		resolved, ok := s.p.resolve(s.file, name)
		if !ok {
			return s.syntaxError("cannot find stylesheet to import: %q", name)
		}
		if err := s.p.file(resolved); err != nil {
			return err
		}
		if s.p.last != '\n' {
			s.emitByte('\n')
		}
	}
	s.stmtStart = true
	return nil
}

// splitImports splits an import list on commas outside quotes.
func splitImports(list string) []string {
	var out []string
	var quote byte
	depth := 0
	start := 0
	for i := 0; i < len(list); i++ {
		c := list[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(list[start:i]))
			start = i + 1
		}
	}
	if last := strings.TrimSpace(list[start:]); last != "" {
		out = append(out, last)
	}
	return out
}

func isPlainImport(target string) bool {
	if strings.HasPrefix(target, "url(") {
		return true
	}
	name := strings.Trim(target, `"'`)
	return strings.HasPrefix(name, "http://") ||
		strings.HasPrefix(name, "https://") ||
		strings.HasPrefix(name, "//")
}
