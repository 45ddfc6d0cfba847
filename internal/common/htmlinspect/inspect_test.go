package htmlinspect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Selector
		wantErr  bool
	}{
		{
			name:     "tag with attribute value single quotes",
			input:    "meta[data-gen-source='meta-loader']",
			expected: Selector{Tag: "meta", Attr: "data-gen-source", Value: "meta-loader"},
		},
		{
			name:     "tag with attribute value double quotes",
			input:    `div[data-ready="true"]`,
			expected: Selector{Tag: "div", Attr: "data-ready", Value: "true"},
		},
		{
			name:     "tag with bare attribute",
			input:    "div[data-hydrated]",
			expected: Selector{Tag: "div", Attr: "data-hydrated"},
		},
		{
			name:     "bare tag",
			input:    "main",
			expected: Selector{Tag: "main"},
		},
		{
			name:     "uppercase normalized",
			input:    "META[DATA-GEN-SOURCE='meta-loader']",
			expected: Selector{Tag: "meta", Attr: "data-gen-source", Value: "meta-loader"},
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "  meta[name='done']  ",
			expected: Selector{Tag: "meta", Attr: "name", Value: "done"},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "class selector unsupported", input: ".ready", wantErr: true},
		{name: "descendant combinator unsupported", input: "div span", wantErr: true},
		{name: "unquoted value unsupported", input: "div[a=b]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := ParseSelector(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sel)
		})
	}
}

func TestSelectorString(t *testing.T) {
	sel, err := ParseSelector(`meta[data-gen-source="meta-loader"]`)
	require.NoError(t, err)
	assert.Equal(t, "meta[data-gen-source='meta-loader']", sel.String())

	sel, err = ParseSelector("div[data-hydrated]")
	require.NoError(t, err)
	assert.Equal(t, "div[data-hydrated]", sel.String())

	sel, err = ParseSelector("main")
	require.NoError(t, err)
	assert.Equal(t, "main", sel.String())
}

func TestHasMarker(t *testing.T) {
	marker := Selector{Tag: "meta", Attr: "data-gen-source", Value: "meta-loader"}

	tests := []struct {
		name  string
		html  string
		found bool
	}{
		{
			name:  "marker present in head",
			html:  `<html><head><meta data-gen-source="meta-loader"></head><body>ok</body></html>`,
			found: true,
		},
		{
			name:  "marker present in body",
			html:  `<html><body><meta data-gen-source="meta-loader">content</body></html>`,
			found: true,
		},
		{
			name:  "marker absent",
			html:  `<html><head><meta name="description" content="x"></head><body></body></html>`,
			found: false,
		},
		{
			name:  "attribute value mismatch",
			html:  `<html><head><meta data-gen-source="other"></head></html>`,
			found: false,
		},
		{
			name:  "fragment without html wrapper",
			html:  `<div><meta data-gen-source="meta-loader"></div>`,
			found: true,
		},
		{
			name:  "empty document",
			html:  ``,
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.found, HasMarker([]byte(tt.html), marker))
		})
	}
}

func TestHasMarkerBareAttribute(t *testing.T) {
	sel := Selector{Tag: "div", Attr: "data-hydrated"}

	assert.True(t, HasMarker([]byte(`<div data-hydrated>x</div>`), sel))
	assert.True(t, HasMarker([]byte(`<div data-hydrated="anything">x</div>`), sel))
	assert.False(t, HasMarker([]byte(`<div data-other>x</div>`), sel))
}

func TestStripScripts(t *testing.T) {
	input := `<html><head>
<script src="/app.js"></script>
<script type="application/ld+json">{"@type":"Product"}</script>
</head><body>
<p>visible</p>
<script>inlineCode();</script>
</body></html>`

	out := string(StripScripts([]byte(input)))

	assert.NotContains(t, out, "app.js")
	assert.NotContains(t, out, "inlineCode")
	assert.Contains(t, out, `{"@type":"Product"}`, "structured data must survive")
	assert.Contains(t, out, "<p>visible</p>")
}

func TestStripScriptsNested(t *testing.T) {
	input := `<html><body><div><section><script>deep();</script><span>keep</span></section></div></body></html>`
	out := string(StripScripts([]byte(input)))

	assert.NotContains(t, out, "deep()")
	assert.Contains(t, out, "<span>keep</span>")
}

func TestStripScriptsNoScripts(t *testing.T) {
	input := `<html><body><p>plain</p></body></html>`
	out := string(StripScripts([]byte(input)))

	assert.Contains(t, out, "<p>plain</p>")
	assert.False(t, strings.Contains(out, "<script"))
}
