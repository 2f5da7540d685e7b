package publish

import (
	"archive/zip"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, name string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(name)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(content)
	}
	return out
}

func TestBundle(t *testing.T) {
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "welcome.html"),
		`<img src="assets/img/logo.png"><img src="/assets/img/logo.png"><img src="assets/img/missing.png">`+
			`<img src="https://cdn.example.com/x.png"><img src="../secret.png">`)
	writeFile(t, filepath.Join(dst, "plain.html"), `<p>no images</p>`)
	writeFile(t, filepath.Join(dst, "promo", "sale.html"), `<p>nested</p><img src="../assets/img/logo.png">`)
	writeFile(t, filepath.Join(dst, "assets", "img", "logo.png"), "png")
	writeFile(t, filepath.Join(dst, "assets", "img", "unused.png"), "unused")

	bundles, err := Bundle(context.Background(), dst, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dst, "plain.zip"),
		filepath.Join(dst, "promo-sale.zip"),
		filepath.Join(dst, "welcome.zip"),
	}, bundles)

	sale := readZip(t, bundles[1])
	assert.Equal(t, map[string]string{
		"promo-sale/promo/sale.html":     `<p>nested</p><img src="../assets/img/logo.png">`,
		"promo-sale/assets/img/logo.png": "png",
	}, sale, "relative references resolve inside the archive")

	welcome := readZip(t, bundles[2])
	assert.Equal(t, map[string]string{
		"welcome/welcome.html":        `<img src="assets/img/logo.png"><img src="/assets/img/logo.png"><img src="assets/img/missing.png"><img src="https://cdn.example.com/x.png"><img src="../secret.png">`,
		"welcome/assets/img/logo.png": "png",
	}, welcome)

	plain := readZip(t, bundles[0])
	assert.Equal(t, map[string]string{"plain/plain.html": "<p>no images</p>"}, plain)
}

func TestBundleSkipsTakenFlatName(t *testing.T) {
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "promo-sale.html"), `<p>top</p>`)
	writeFile(t, filepath.Join(dst, "promo", "sale.html"), `<p>nested</p>`)

	bundles, err := Bundle(context.Background(), dst, nil)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dst, "promo-sale.zip")}, bundles)
	assert.Equal(t, map[string]string{"promo-sale/promo-sale.html": "<p>top</p>"}, readZip(t, bundles[0]))
}

func TestBundleCancelled(t *testing.T) {
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "welcome.html"), "<p>x</p>")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Bundle(ctx, dst, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		doc  string
		src  string
		want string
		ok   bool
	}{
		{doc: "a.html", src: "assets/img/a.png", want: "assets/img/a.png", ok: true},
		{doc: "a.html", src: "/assets/img/a.png", want: "assets/img/a.png", ok: true},
		{doc: "a.html", src: "assets/img/../img/a.png?v=2", want: "assets/img/a.png", ok: true},
		{doc: "a.html", src: "../a.png", ok: false},
		{doc: "a.html", src: "https://cdn/a.png", ok: false},
		{doc: "a.html", src: "//cdn/a.png", ok: false},
		{doc: "promo/sale.html", src: "../assets/img/a.png", want: "assets/img/a.png", ok: true},
		{doc: "promo/sale.html", src: "/assets/img/a.png", want: "assets/img/a.png", ok: true},
		{doc: "promo/sale.html", src: "../../a.png", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.doc+" "+tt.src, func(t *testing.T) {
			got, ok := localPath(tt.doc, tt.src)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
