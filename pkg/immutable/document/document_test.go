package document_test

import (
	"strings"
	"testing"

	"github.com/jamesainslie/immutable/pkg/immutable/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSuppliesStructure(t *testing.T) {
	got, err := document.Normalize([]byte("<p>hi"))
	require.NoError(t, err)
	assert.Equal(t, "<!DOCTYPE html><html><head></head><body><p>hi</p></body></html>", got)
}

func TestNormalizeIsStable(t *testing.T) {
	src := []byte(`<!doctype html><html lang=en><head><script type="module">if (a < b) {}</script></head><body><br/><img src=x></body></html>`)

	once, err := document.Normalize(src)
	require.NoError(t, err)
	twice, err := document.Normalize([]byte(once))
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Contains(t, once, "if (a < b) {}")
}

func TestSerializeEscapesLikeTheBrowser(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"quotes in text are literal",
			`<p>Don't say "hi"</p>`,
			`<p>Don't say "hi"</p>`,
		},
		{
			"text escapes ampersand angle brackets and nbsp",
			`<p>a&nbsp;&amp; 1 &lt; 2 &gt; 0</p>`,
			`<p>a&nbsp;&amp; 1 &lt; 2 &gt; 0</p>`,
		},
		{
			"attributes escape double quotes but not apostrophes",
			`<p title='Don&#39;t say "hi"&nbsp;&amp; a&lt;b'>x</p>`,
			`<p title="Don't say &quot;hi&quot;&nbsp;&amp; a&lt;b">x</p>`,
		},
		{
			"raw text is not escaped",
			`<script>if (a < b && c > "d") {}</script><style>p > a { content: "&" }</style>`,
			`<script>if (a < b && c > "d") {}</script><style>p > a { content: "&" }</style>`,
		},
		{
			"title text escapes like other text",
			`<title>Tom's "page" & co</title>`,
			`<title>Tom's "page" &amp; co</title>`,
		},
		{
			"void elements have no end tag",
			`<br/><img src=a.png><input disabled>`,
			`<br><img src="a.png"><input disabled="">`,
		},
		{
			"comments are kept",
			`<p><!-- note --></p>`,
			`<p><!-- note --></p>`,
		},
		{
			"foreign names keep their case and prefixes",
			`<svg viewbox="0 0 1 1"><foreignObject></foreignObject><a xlink:href="#x"></a></svg>`,
			`<svg viewBox="0 0 1 1"><foreignObject></foreignObject><a xlink:href="#x"></a></svg>`,
		},
		{
			"template content is serialized",
			`<template><b>t</b></template>`,
			`<template><b>t</b></template>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := document.Normalize([]byte("<!DOCTYPE html><html><head></head><body>" + tt.in + "</body></html>"))
			require.NoError(t, err)
			body := strings.TrimSuffix(strings.TrimPrefix(got, "<!DOCTYPE html><html><head></head><body>"), "</body></html>")
			assert.Equal(t, tt.want, body)
		})
	}
}
