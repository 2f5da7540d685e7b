package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildErrorError(t *testing.T) {
	err := NewSyntaxError("assets/scss/app.scss", 12, "unbalanced braces")

	msg := err.Error()
	assert.Contains(t, msg, ErrCodeStyleSyntax)
	assert.Contains(t, msg, "assets/scss/app.scss:12")
	assert.Contains(t, msg, "unbalanced braces")
}

func TestReferenceErrorNamesPageAndPartial(t *testing.T) {
	err := NewReferenceError("pages/welcome.html", "partial", "foo")

	var ref *UnresolvedReferenceError
	require.True(t, errors.As(err, &ref))
	assert.Equal(t, "foo", ref.Name)
	assert.Equal(t, "pages/welcome.html", ref.Page)
	assert.Contains(t, err.Error(), `"foo"`)
	assert.Contains(t, err.Error(), "pages/welcome.html")
	assert.Equal(t, ErrCodeUnresolvedPartial, err.Code)

	layoutErr := NewReferenceError("pages/a.html", "layout", "missing")
	assert.Equal(t, ErrCodeUnresolvedLayout, layoutErr.Code)
}

func TestClassification(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		reference bool
		fatal     bool
	}{
		{"reference", NewReferenceError("p", "partial", "x"), true, false},
		{"wrapped reference", fmt.Errorf("compile: %w", NewReferenceError("p", "partial", "x")), true, false},
		{"syntax", NewSyntaxError("a.scss", 1, "x"), false, true},
		{"config", NewConfigError(ErrCodeCredentials, "missing", nil), false, true},
		{"watcher", NewWatcherError(errors.New("boom")), false, false},
		{"plain", errors.New("plain"), false, true},
		{"nil", nil, false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.reference, IsReference(tc.err))
			assert.Equal(t, tc.fatal, IsFatal(tc.err))
		})
	}
}

func TestBuildErrorIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewConfigError(ErrCodeCredentials, "missing", nil))

	assert.True(t, errors.Is(err, &BuildError{Kind: KindConfig, Code: ErrCodeCredentials}))
	assert.False(t, errors.Is(err, &BuildError{Kind: KindConfig, Code: ErrCodeConfigInvalid}))
	assert.True(t, IsConfig(err))
}

func TestBuildErrorLocation(t *testing.T) {
	err := NewTemplateError("promo/sale.html", fmt.Errorf("boom")).
		WithLocation("pages/promo/sale.html", 7)
	assert.Equal(t, "[ERR_TEMPLATE] page:promo/sale.html pages/promo/sale.html:7 template failed: boom", err.Error())

	scoped := NewIOError(ErrCodeWrite, "finish document", fmt.Errorf("eof")).WithPage("welcome.html")
	assert.Equal(t, "welcome.html", scoped.Page)
	assert.Equal(t, "[ERR_WRITE] page:welcome.html finish document: eof", scoped.Error())
}

func TestCollector(t *testing.T) {
	collector := NewCollector()
	assert.False(t, collector.HasErrors())
	assert.NoError(t, collector.Join())

	collector.Add(nil)
	collector.Add(NewReferenceError("pages/b.html", "partial", "x"))
	collector.Add(NewReferenceError("pages/a.html", "partial", "y"))

	require.Equal(t, 2, collector.Len())
	errs := collector.Errors()
	assert.Contains(t, errs[0].Error(), "pages/a.html")
	assert.Contains(t, errs[1].Error(), "pages/b.html")
	assert.Error(t, collector.Join())
}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (r *recordingLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	r.errors = append(r.errors, msg)
}

func (r *recordingLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	r.warns = append(r.warns, msg)
}

func TestHandlerRoutesByKind(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewReferenceError("p", "partial", "x"))
	handler.Handle(ctx, NewWatcherError(errors.New("x")))
	handler.Handle(ctx, NewSyntaxError("a.scss", 0, "x"))
	handler.Handle(ctx, errors.New("plain"))

	assert.Len(t, logger.warns, 2)
	assert.Len(t, logger.errors, 2)
}
