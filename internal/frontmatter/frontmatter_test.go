package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantFront string
		wantBody  string
		wantHad   bool
		wantErr   bool
	}{
		{name: "no front matter", in: "<p>hi</p>", wantBody: "<p>hi</p>"},
		{name: "front matter", in: "---\nlayout: plain\n---\n<p>hi</p>", wantFront: "layout: plain\n", wantBody: "<p>hi</p>", wantHad: true},
		{name: "empty front matter", in: "---\n---\nbody", wantBody: "body", wantHad: true},
		{name: "crlf", in: "---\r\ntitle: x\r\n---\r\nbody", wantFront: "title: x\r\n", wantBody: "body", wantHad: true},
		{name: "closing at eof", in: "---\ntitle: x\n---", wantFront: "title: x\n", wantBody: "", wantHad: true},
		{name: "unterminated", in: "---\ntitle: x\nbody", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			front, body, had, err := Split([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingClosingDelimiter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHad, had)
			assert.Equal(t, tt.wantFront, string(front))
			assert.Equal(t, tt.wantBody, string(body))
		})
	}
}

func TestParse(t *testing.T) {
	fields, body, err := Parse([]byte("---\nlayout: plain\ntitle: Spring sale\n---\n<h1>{{.title}}</h1>"))
	require.NoError(t, err)
	assert.Equal(t, "plain", fields["layout"])
	assert.Equal(t, "Spring sale", fields["title"])
	assert.Equal(t, "<h1>{{.title}}</h1>", string(body))

	fields, body, err = Parse([]byte("plain body"))
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Equal(t, "plain body", string(body))

	_, _, err = Parse([]byte("---\ntitle: [unclosed\n---\n"))
	assert.Error(t, err)
}
