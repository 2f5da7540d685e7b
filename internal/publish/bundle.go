package publish

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/logging"
)

// Bundle writes one zip archive into dst for every document in dst.
// Nested documents get a flattened archive name, so promo/sale.html is
// bundled as promo-sale.zip. Each archive holds the document at its path
// under a <name>/ folder plus the local images it references, placed so
// the document's relative references still resolve. A nested document
// whose flattened name is taken by an earlier one is skipped with a
// warning. Returns the written archive paths.
func Bundle(ctx context.Context, dst string, logger logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	docs, err := LoadDocuments(dst)
	if err != nil {
		return nil, err
	}

	var written []string
	taken := make(map[string]string)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		flat := bundleName(doc.Name)
		if other, ok := taken[flat]; ok {
			logger.Warn(ctx, nil, "Archive name already used, document not bundled",
				"document", doc.Path, "archive", flat+".zip", "used_by", other)
			continue
		}
		taken[flat] = doc.Path

		archive, err := bundleDocument(ctx, dst, flat, doc, logger)
		if err != nil {
			return written, err
		}
		name := filepath.Join(dst, flat+".zip")
		if err := os.WriteFile(name, archive, 0o644); err != nil {
			return written, errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("write %s", name), err)
		}
		written = append(written, name)
		logger.Info(ctx, "Bundled document", "archive", name)
	}
	return written, nil
}

// bundleName is the archive name, without extension, of a document.
func bundleName(docName string) string {
	return strings.ReplaceAll(docName, "/", "-")
}

func bundleDocument(ctx context.Context, dst, folder string, doc *Document, logger logging.Logger) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := addZipFile(zw, folder+"/"+doc.Path, doc.HTML); err != nil {
		return nil, err
	}

	added := make(map[string]bool)
	for _, src := range ImageSources(doc.HTML) {
		rel, ok := localPath(doc.Path, src)
		if !ok || added[rel] {
			continue
		}
		added[rel] = true
		content, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(rel)))
		if err != nil {
			logger.Warn(ctx, err, "Referenced image missing from bundle",
				"document", doc.Path, "src", src)
			continue
		}
		if err := addZipFile(zw, folder+"/"+rel, content); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWrite, "close archive", err)
	}
	return buf.Bytes(), nil
}

// localPath turns an img src of the document at docPath into a clean path
// inside the output tree. Relative sources resolve against the document's
// directory.
func localPath(docPath, src string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	p := u.Path
	if strings.HasPrefix(p, "/") {
		p = strings.TrimPrefix(p, "/")
	} else {
		p = path.Join(path.Dir(docPath), p)
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

func addZipFile(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("add %s", name), err)
	}
	if _, err := w.Write(content); err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("add %s", name), err)
	}
	return nil
}
