package server

import (
	"context"
	"io"
	"net/url"

	"github.com/a-h/templ"

	"github.com/hotovec/mails/internal/publish"
)

// indexPage lists the built documents of project with links to preview
// each one.
func indexPage(project string, docs []*publish.Document) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		write := func(s string) error {
			_, err := io.WriteString(w, s)
			return err
		}

		title := templ.EscapeString(project)
		if err := write(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>` + title +
			`</title><style>body{font-family:sans-serif;margin:2rem}li{margin:.4rem 0}small{color:#777}</style></head><body><h1>` +
			title + `</h1>`); err != nil {
			return err
		}

		if len(docs) == 0 {
			if err := write(`<p>No documents built yet.</p>`); err != nil {
				return err
			}
		} else {
			if err := write(`<ul>`); err != nil {
				return err
			}
			for _, doc := range docs {
				href := (&url.URL{Path: "/" + doc.Path}).EscapedPath()
				item := `<li><a href="` + templ.EscapeString(href) + `">` + templ.EscapeString(doc.Title()) +
					`</a> <small>` + templ.EscapeString(doc.Path) + `</small></li>`
				if err := write(item); err != nil {
					return err
				}
			}
			if err := write(`</ul>`); err != nil {
				return err
			}
		}

		return write(reloadScript + `</body></html>`)
	})
}
