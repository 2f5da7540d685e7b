package inky

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeComponents(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "container",
			in:   `<container class="body">x</container>`,
			want: `<table align="center" class="container body"><tbody><tr><td>x</td></tr></tbody></table>`,
		},
		{
			name: "row",
			in:   `<row id="r">x</row>`,
			want: `<table id="r" class="row"><tbody><tr>x</tr></tbody></table>`,
		},
		{
			name: "full width column gets expander",
			in:   `<columns>x</columns>`,
			want: `<th class="small-12 large-12 columns first last"><table><tbody><tr><th>x</th><th class="expander"></th></tr></tbody></table></th>`,
		},
		{
			name: "button",
			in:   `<button href="https://example.com" class="radius">Go</button>`,
			want: `<table class="button radius"><tbody><tr><td><table><tbody><tr><td><a href="https://example.com">Go</a></td></tr></tbody></table></td></tr></tbody></table>`,
		},
		{
			name: "expanded button",
			in:   `<button href="#" expand>Go</button>`,
			want: `<table class="button expand"><tbody><tr><td><table><tbody><tr><td><center data-parsed=""><a href="#" align="center" class="float-center">Go</a></center></td></tr></tbody></table></td><td class="expander"></td></tr></tbody></table>`,
		},
		{
			name: "spacer",
			in:   `<spacer size="10"></spacer>`,
			want: `<table class="spacer"><tbody><tr><td height="10px" style="font-size:10px;line-height:10px;">&nbsp;</td></tr></tbody></table>`,
		},
		{
			name: "callout",
			in:   `<callout class="alert">x</callout>`,
			want: `<table class="callout"><tbody><tr><th class="callout-inner alert">x</th><th class="expander"></th></tr></tbody></table>`,
		},
		{
			name: "center",
			in:   `<center><img src="a.png"></center>`,
			want: `<center data-parsed=""><img src="a.png" align="center" class="float-center"/></center>`,
		},
		{
			name: "menu",
			in:   `<menu><item href="/a">A</item></menu>`,
			want: `<table class="menu"><tbody><tr><td><table><tbody><tr><th class="menu-item"><a href="/a">A</a></th></tr></tbody></table></td></tr></tbody></table>`,
		},
		{
			name: "wrapper",
			in:   `<wrapper class="header">x</wrapper>`,
			want: `<table align="center" class="wrapper header"><tbody><tr><td class="wrapper-inner">x</td></tr></tbody></table>`,
		},
		{
			name: "h-line",
			in:   `<h-line></h-line>`,
			want: `<table class="h-line"><tbody><tr><th>&nbsp;</th></tr></tbody></table>`,
		},
		{
			name: "block grid",
			in:   `<block-grid up="3">x</block-grid>`,
			want: `<table class="block-grid up-3"><tbody><tr>x</tr></tbody></table>`,
		},
		{
			name: "unknown tags pass through",
			in:   `<p class="lead">hello <b>there</b></p>`,
			want: `<p class="lead">hello <b>there</b></p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Normalize([]byte(tt.in))))
		})
	}
}

func TestNormalizeColumnsInRow(t *testing.T) {
	out := string(Normalize([]byte(`<row><columns>a</columns><columns>b</columns><columns large="4">c</columns></row>`)))

	assert.Contains(t, out, `<th class="small-12 large-4 columns first">`)
	assert.Contains(t, out, `<th class="small-12 large-4 columns">`)
	assert.Contains(t, out, `<th class="small-12 large-4 columns last">`)
	assert.NotContains(t, out, "expander")
}

func TestNormalizeSmallSizeDefaultsLarge(t *testing.T) {
	out := string(Normalize([]byte(`<columns small="6">x</columns>`)))
	assert.Contains(t, out, `class="small-6 large-6 columns first last"`)
}

func TestNormalizeNestedRowSuppressesExpander(t *testing.T) {
	out := string(Normalize([]byte(`<container><row><columns><row><columns small="6">x</columns></row></columns></row></container>`)))

	assert.True(t, strings.HasPrefix(out, `<table align="center" class="container">`))
	assert.Equal(t, 0, strings.Count(out, `class="expander"`))
	assert.NotContains(t, out, "<row>")
	assert.NotContains(t, out, "<columns")
}

func TestNormalizeResponsiveSpacer(t *testing.T) {
	out := string(Normalize([]byte(`<spacer size-sm="8" size-lg="24"></spacer>`)))
	assert.Contains(t, out, `class="spacer hide-for-large"`)
	assert.Contains(t, out, `height="8px"`)
	assert.Contains(t, out, `class="spacer show-for-large"`)
	assert.Contains(t, out, `height="24px"`)
}

func TestNormalizeDocumentStaysDocument(t *testing.T) {
	in := `<!DOCTYPE html><html><head><title>x</title><!-- <style> --></head><body><container>hi</container></body></html>`
	out := string(Normalize([]byte(in)))

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html><html><head>"))
	assert.Contains(t, out, "<!-- <style> -->")
	assert.Contains(t, out, `<body><table align="center" class="container">`)
}

func TestNormalizeMalformedInputIsBestEffort(t *testing.T) {
	out := Normalize([]byte(`<row><columns>unclosed`))
	assert.Contains(t, string(out), `class="row"`)
	assert.Contains(t, string(out), "unclosed")
}

func TestNormalizeWithoutComponentsIsPassThrough(t *testing.T) {
	tests := []string{
		`<p>Price:&nbsp;10&nbsp;EUR</p>`,
		`<!DOCTYPE html><html><head><meta charset=utf-8></head><body><img src=logo.png alt='Logo'><br></body></html>`,
		`<table><tr><td class=a>x</td></tr></table>`,
		"<p>{{ unrendered }} &amp; &copy;</p>\n",
	}
	for _, in := range tests {
		assert.Equal(t, in, string(Normalize([]byte(in))))
	}
}

func TestNormalizeKeepsNbspEntities(t *testing.T) {
	out := string(Normalize([]byte(`<container><p>a&nbsp;b</p></container>`)))
	assert.Contains(t, out, "a&nbsp;b")
	assert.NotContains(t, out, "\u00a0")
}
