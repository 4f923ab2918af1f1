package selectors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
)

func TestLoadDefault(t *testing.T) {
	set, err := LoadDefault()
	require.NoError(t, err)

	assert.ElementsMatch(t, Elements, set.Names())
	for _, name := range Elements {
		assert.NotEmpty(t, set.Chain(name), "element %s must have a chain", name)
	}

	login := set.Chain(LoginSubmit)
	assert.Equal(t, "button#login-submit", login[0].Raw)
	assert.Equal(t, browser.CSS, login[0].Query.Kind)

	for _, sel := range set.Chain(ConversationEntry) {
		assert.Equal(t, browser.CSS, sel.Query.Kind, "conversation entries are matched on parsed markup and must be CSS")
	}
}

func TestSetChainIsACopy(t *testing.T) {
	set, err := LoadDefault()
	require.NoError(t, err)

	chain := set.Chain(EmailField)
	chain[0].Raw = "mutated"
	assert.NotEqual(t, "mutated", set.Chain(EmailField)[0].Raw)
	assert.Nil(t, set.Chain("no_such_element"))
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverride(t *testing.T) {
	t.Run("replaces named chains only", func(t *testing.T) {
		path := writeFile(t, `
version: 1
elements:
  login_submit:
    - "button.new-login"
    - "text=Jetzt einloggen"
`)
		set, err := Load(path)
		require.NoError(t, err)

		chain := set.Chain(LoginSubmit)
		require.Len(t, chain, 2)
		assert.Equal(t, "button.new-login", chain[0].Raw)
		assert.Equal(t, browser.XPath, chain[1].Query.Kind)

		defaults, err := LoadDefault()
		require.NoError(t, err)
		assert.Equal(t, defaults.Chain(EmailField), set.Chain(EmailField))
	})

	t.Run("empty path is the default set", func(t *testing.T) {
		set, err := Load("")
		require.NoError(t, err)
		assert.Len(t, set.Names(), len(Elements))
	})

	t.Run("unknown element", func(t *testing.T) {
		_, err := Load(writeFile(t, "version: 1\nelements:\n  login_sumbit: [\"#x\"]\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown element "login_sumbit"`)
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := Load(writeFile(t, "version: 1\nelements:\n  captcha: []\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `element "captcha" has no selectors`)
	})

	t.Run("invalid selector", func(t *testing.T) {
		_, err := Load(writeFile(t, "version: 1\nelements:\n  captcha: [\"xpath=\"]\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `element "captcha" selector 0`)
	})

	t.Run("wrong version", func(t *testing.T) {
		_, err := Load(writeFile(t, "version: 2\nelements: {}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported version 2")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
