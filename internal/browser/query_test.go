// internal/browser/query_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Query
	}{
		{"bare css", "button#login-submit", Query{Kind: CSS, Expr: "button#login-submit"}},
		{"prefixed css", "css= textarea[name='message'] ", Query{Kind: CSS, Expr: "textarea[name='message']"}},
		{"prefixed xpath", "xpath=//button[@type='submit']", Query{Kind: XPath, Expr: "//button[@type='submit']"}},
		{"bare xpath", "//a[contains(@href, 'nachrichtenbox')]", Query{Kind: XPath, Expr: "//a[contains(@href, 'nachrichtenbox')]"}},
		{"grouped xpath", "(//li)[1]", Query{Kind: XPath, Expr: "(//li)[1]"}},
		{
			"text literal",
			"text=Alle akzeptieren",
			Query{Kind: XPath, Expr: `//*[not(self::script) and not(self::style)][text()[contains(normalize-space(.), "Alle akzeptieren")]]`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelector(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects empty forms", func(t *testing.T) {
		for _, raw := range []string{"", "   ", "css=", "xpath=", "text= "} {
			_, err := ParseSelector(raw)
			assert.Error(t, err, "selector %q should be rejected", raw)
		}
	})
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, `"plain"`, xpathLiteral("plain"))
	assert.Equal(t, `'say "hi"'`, xpathLiteral(`say "hi"`))
	assert.Equal(t, `concat("it's ", '"', "quoted", '"')`, xpathLiteral(`it's "quoted"`))
}

func TestQueryWithin(t *testing.T) {
	t.Run("css in css", func(t *testing.T) {
		got, ok := MustParseSelector("input[name='price']").Within(MustParseSelector("form#offer"))
		require.True(t, ok)
		assert.Equal(t, Query{Kind: CSS, Expr: "form#offer input[name='price']"}, got)
	})

	t.Run("xpath in xpath", func(t *testing.T) {
		got, ok := MustParseSelector("//button").Within(MustParseSelector("//form"))
		require.True(t, ok)
		assert.Equal(t, Query{Kind: XPath, Expr: "(//form)[1]//button"}, got)
	})

	t.Run("mixed kinds cannot be combined", func(t *testing.T) {
		_, ok := MustParseSelector("text=Senden").Within(MustParseSelector("form#offer"))
		assert.False(t, ok)
	})
}
