package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/haggle-cli/internal/mocks"
)

func TestRecorderCapture(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "screenshots")
	r := NewRecorder(dir, true, time.Second, zaptest.NewLogger(t))
	r.now = func() time.Time { return time.Date(2026, 3, 1, 14, 5, 9, 123e6, time.UTC) }

	page := mocks.NewFakePage()
	a, err := r.Capture(context.Background(), page, "make_offer")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "make_offer_20260301T140509.123.png"), a.ScreenshotPath)
	assert.Equal(t, "make_offer", a.Step)

	data, err := os.ReadFile(a.ScreenshotPath)
	require.NoError(t, err)
	assert.Equal(t, mocks.FakeScreenshot, data)
	assert.Equal(t, []Artifact{*a}, r.Captured())
}

func TestRecorderCaptureAfterCancellation(t *testing.T) {
	r := NewRecorder(t.TempDir(), false, time.Second, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a, err := r.Capture(ctx, mocks.NewFakePage(), "authenticate")
	require.NoError(t, err, "a cancelled run still gets its screenshot")
	assert.FileExists(t, a.ScreenshotPath)
}

func TestRecorderCaptureFailure(t *testing.T) {
	r := NewRecorder(t.TempDir(), true, time.Second, zaptest.NewLogger(t))
	page := mocks.NewFakePage()
	page.ScreenshotErr = errors.New("target closed")

	_, err := r.Capture(context.Background(), page, "send_message")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send_message")
	assert.Empty(t, r.Captured())
}

func TestRecorderSanitizesStep(t *testing.T) {
	r := NewRecorder(t.TempDir(), true, time.Second, zaptest.NewLogger(t))
	a, err := r.Capture(context.Background(), mocks.NewFakePage(), "../evil step")
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(a.ScreenshotPath), r.dir)
	assert.Contains(t, filepath.Base(a.ScreenshotPath), "_evil_step_")
}

func TestStepContext(t *testing.T) {
	assert.Equal(t, "unknown", StepFrom(context.Background()))
	assert.Equal(t, "authenticate", StepFrom(WithStep(context.Background(), "authenticate")))
}
