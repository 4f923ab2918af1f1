package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/observability"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

const testListing = "https://www.kleinanzeigen.de/s-anzeige/fahrrad/2712345678-217-1234"

// testEnv isolates a command run: logs, session and screenshots go to a
// temp dir, and no .env or config.yaml from the working directory is read.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	t.Setenv("HAGGLE_LOGGER_LOG_FILE", filepath.Join(dir, "logs", "haggle.log"))
	t.Setenv("HAGGLE_LOGGER_LEVEL", "error")
	t.Setenv("HAGGLE_SESSION_PATH", filepath.Join(dir, "session.json"))
	t.Setenv("HAGGLE_DIAGNOSTICS_DIR", filepath.Join(dir, "screenshots"))
	t.Setenv("HAGGLE_EMAIL", "")
	t.Setenv("HAGGLE_PASSWORD", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRunRejectsInvalidOffer(t *testing.T) {
	dir := testEnv(t)

	out, err := execute(t, "run",
		"--url", testListing,
		"--message", "Ist noch verfügbar?",
		"--price", "100",
		"--delivery", "pickup",
		"--shipping-cost", "5",
		"--email", "max@example.de",
		"--password", "secret",
	)
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, out, "InvalidInput")
	assert.Contains(t, out, "shipping cost")
	assert.NotContains(t, out, "secret")

	_, statErr := os.Stat(filepath.Join(dir, "screenshots"))
	assert.True(t, os.IsNotExist(statErr), "nothing is captured for a rejected request")
}

func TestRunCredentialsFromEnvironment(t *testing.T) {
	testEnv(t)
	t.Setenv("HAGGLE_EMAIL", "not-an-email")
	t.Setenv("HAGGLE_PASSWORD", "secret")

	out, err := execute(t, "run", "--url", testListing, "--message", "Hallo", "--price", "50")
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, out, "email")
}

func TestRunMissingValues(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "run", "--email", "max@example.de", "--password", "secret")
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, out, "InvalidInput")
}

func TestRunUsageErrors(t *testing.T) {
	tests := map[string][]string{
		"unknown delivery": {"run", "--url", testListing, "--message", "x", "--price", "1", "--delivery", "teleport"},
		"unknown flag":     {"run", "--haggle-harder"},
		"bad price":        {"run", "--price", "hundert"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			testEnv(t)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitUsage, ExitCode(err))
		})
	}
}

func TestSelectorsCommand(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "selectors")
	require.NoError(t, err)
	assert.Contains(t, out, "captcha")
	assert.Contains(t, out, "offer_submit")
	assert.Regexp(t, `(?m)^email_field\s+1\s+\S+`, out)
}

func TestSelectorsCommandOverrideFile(t *testing.T) {
	dir := testEnv(t)
	file := filepath.Join(dir, "selectors.yaml")
	require.NoError(t, os.WriteFile(file, []byte("version: 1\nelements:\n  offer_button:\n    - \"button#make-offer\"\n"), 0o600))

	out, err := execute(t, "selectors", "--selectors-file", file)
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^offer_button\s+1\s+button#make-offer$`, out)

	_, err = execute(t, "selectors", "--selectors-file", filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestSessionShowAndClear(t *testing.T) {
	dir := testEnv(t)
	path := filepath.Join(dir, "session.json")

	out, err := execute(t, "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No usable session")

	store := session.NewStore(path, zap.NewNop())
	require.NoError(t, store.Save(session.Session{
		CapturedAt: time.Now(),
		Cookies: []session.Cookie{
			{Name: "access_token", Value: "very-secret", Domain: ".kleinanzeigen.de", Path: "/", Expires: time.Now().Add(time.Hour)},
		},
	}))

	out, err = execute(t, "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "1 live")
	assert.Contains(t, out, "access_token")
	assert.NotContains(t, out, "very-secret")

	out, err = execute(t, "session", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Clearing twice is fine.
	_, err = execute(t, "session", "clear")
	require.NoError(t, err)
}

func TestSessionFileFlag(t *testing.T) {
	dir := testEnv(t)
	other := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(other, []byte("{not json"), 0o600))

	out, err := execute(t, "session", "show", "--session-file", other)
	require.NoError(t, err)
	assert.Contains(t, out, "unreadable")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 10, ExitCode(&ExitError{Code: 10}))
	assert.Equal(t, ExitUsage, ExitCode(usageError(errors.New("bad flag"))))

	wrapped := errors.Join(errors.New("context"), &ExitError{Code: 3})
	assert.Equal(t, 3, ExitCode(wrapped))
	assert.Equal(t, "exit status 3", (&ExitError{Code: 3}).Error())
}
