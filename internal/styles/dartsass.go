package styles

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bep/godartsass/v2"

	"github.com/hotovec/mails/internal/errors"
)

// DartSass compiles the stylesheet with an external Dart Sass binary over
// its embedded protocol. It covers the full Sass language, unlike the
// built-in preprocessor.
type DartSass struct {
	// Binary is the path of the sass executable.
	Binary string
}

// NewDartSass checks that binary exists.
func NewDartSass(binary string) (*DartSass, error) {
	if _, err := os.Stat(binary); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("sass binary %s", binary), err)
	}
	return &DartSass{Binary: binary}, nil
}

// Transpile implements Transpiler. One sass process serves one call.
func (d *DartSass) Transpile(ctx context.Context, opts Options) (*Expansion, error) {
	source, err := os.ReadFile(opts.Entry)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStyleSyntax,
			fmt.Sprintf("stylesheet entry %s", opts.Entry), err)
	}
	abs, err := filepath.Abs(opts.Entry)
	if err != nil {
		abs = opts.Entry
	}

	transpiler, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: d.Binary,
	})
	if err != nil {
		return nil, errors.NewExternalError(errors.ErrCodeStyleSyntax, "start sass", err)
	}
	defer transpiler.Close()

	type result struct {
		res godartsass.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := transpiler.Execute(godartsass.Args{
			Source:                  string(source),
			URL:                     "file://" + filepath.ToSlash(abs),
			SourceSyntax:            godartsass.SourceSyntaxSCSS,
			OutputStyle:             godartsass.OutputStyleExpanded,
			IncludePaths:            append([]string{filepath.Dir(abs)}, opts.IncludePaths...),
			EnableSourceMap:         opts.SourceMap,
			SourceMapIncludeSources: opts.SourceMap,
		})
		done <- result{res, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, errors.NewSyntaxError(opts.Entry, 0, r.err.Error())
	}

	exp := &Expansion{CSS: r.res.CSS}
	if opts.SourceMap && r.res.SourceMap != "" {
		var m SourceMap
		if err := json.Unmarshal([]byte(r.res.SourceMap), &m); err != nil {
			return nil, errors.NewExternalError(errors.ErrCodeStyleSyntax, "decode sass source map", err)
		}
		exp.SourceMap = &m
	}
	return exp, nil
}
