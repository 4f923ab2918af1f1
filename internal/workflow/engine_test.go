package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/mocks"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

func newTestEngine(t *testing.T, cfg *config.Config, launcher Launcher, store *session.Store) *Engine {
	t.Helper()
	e := NewEngine(cfg, launcher, testSet(t), store, zaptest.NewLogger(t))
	e.timer = newFakeTimer()
	return e
}

func validRequest() Request {
	return Request{
		ListingURL:   listingURL,
		Credentials:  testCreds,
		Message:      "Ist noch verfügbar?",
		Offer:        OfferSpec{Price: 100, Delivery: DeliveryPickup},
		AllowCookies: true,
	}
}

// screenshots lists the files written to the diagnostics directory.
func screenshots(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	entries, err := os.ReadDir(cfg.Diagnostics.Dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestEngineSuccessWithValidSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	store := saveSession(t, cfg, sessionCookie())
	page := newSite()
	launcher := &fakeLauncher{page: page}

	out := newTestEngine(t, cfg, launcher, store).Run(context.Background(), validRequest())

	require.Equal(t, Success, out.Kind, out.Summary())
	assert.Equal(t, 0, out.ExitCode())
	assert.Nil(t, out.Artifact)
	assert.Empty(t, out.SelectorsTried)
	assert.Empty(t, screenshots(t, cfg), "no artifact on success")
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, 1, launcher.launched)
	assert.Equal(t, 1, launcher.shutdown)

	assert.Equal(t, []string{inboxURL, listingURL, inboxURL, conversationURL}, page.Navigations)
	assert.Empty(t, page.Filled["input#login-email"], "the stored session was reused")
	assert.Equal(t, "Ist noch verfügbar?", page.Filled["textarea#message-text"])
	assert.Equal(t, "100", page.Filled["input[name*='price']"])
	assert.Equal(t, "Abholung", page.Selected["select[name*='delivery']"])
}

func TestEngineExpiredSessionCaptchaAtLogin(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	expired := sessionCookie()
	expired.Expires = time.Now().Add(-time.Hour)
	store := saveSession(t, cfg, expired)

	page := newSite()
	page.Show(loginURL, captchaMarker)

	out := newTestEngine(t, cfg, &fakeLauncher{page: page}, store).Run(context.Background(), validRequest())

	assert.Equal(t, CaptchaDetected, out.Kind)
	assert.Equal(t, 10, out.ExitCode())
	assert.Equal(t, StepAuthenticate, out.Step)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, StepAuthenticate, out.Artifact.Step)

	files := screenshots(t, cfg)
	require.Len(t, files, 1, "exactly one artifact")
	assert.Equal(t, filepath.Base(out.Artifact.ScreenshotPath), files[0])
	assert.Regexp(t, `^authenticate_\d{8}T\d{6}\.\d{3}\.png$`, files[0])
	assert.Empty(t, page.Filled, "credentials are never typed into a challenge page")
}

func TestEngineCaptchaInEveryStep(t *testing.T) {
	tests := []struct {
		step    string
		prepare func(p *mocks.FakePage, req *Request)
	}{
		{StepAuthenticate, func(p *mocks.FakePage, req *Request) {
			req.AllowCookies = false
			p.Show(loginURL, captchaMarker)
		}},
		{StepSendMessage, func(p *mocks.FakePage, req *Request) {
			p.Show(listingURL, captchaMarker)
		}},
		{StepLocateConversation, func(p *mocks.FakePage, req *Request) {
			// Log in with credentials so the inbox is first seen while locating.
			req.AllowCookies = false
			p.Show(inboxURL, captchaMarker)
		}},
		{StepMakeOffer, func(p *mocks.FakePage, req *Request) {
			p.Show(conversationURL, captchaMarker)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			cfg := testConfig(t)
			store := saveSession(t, cfg, sessionCookie())
			page := newSite()
			req := validRequest()
			tt.prepare(page, &req)

			out := newTestEngine(t, cfg, &fakeLauncher{page: page}, store).Run(context.Background(), req)

			assert.Equal(t, CaptchaDetected, out.Kind, out.Summary())
			assert.Equal(t, 10, out.ExitCode())
			assert.Equal(t, tt.step, out.Step)
			require.NotNil(t, out.Artifact)
			assert.Equal(t, tt.step, out.Artifact.Step)
			assert.Len(t, screenshots(t, cfg), 1)
		})
	}
}

func TestEngineStepFailures(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		step    string
		prepare func(p *mocks.FakePage)
	}{
		{"login", LoginFailed, StepAuthenticate, func(p *mocks.FakePage) {
			p.Redirects[inboxURL] = loginURL
			p.Hide(homeURL, "a[href*='/nachrichtenbox']")
		}},
		{"message", MessageFailed, StepSendMessage, func(p *mocks.FakePage) {
			p.Hide(listingURL, "a#viewad-contact")
		}},
		{"conversation", ConversationNotFound, StepLocateConversation, func(p *mocks.FakePage) {
			p.Page(inboxURL).HTML["[data-testid='conversation-list']"] = `<ul data-testid="conversation-list"></ul>`
		}},
		{"offer", OfferFailed, StepMakeOffer, func(p *mocks.FakePage) {
			p.Hide(conversationURL, offerButton)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Timeouts.LoginMarker = 50 * time.Millisecond
			cfg.Timeouts.ConversationPoll = 50 * time.Millisecond
			store := saveSession(t, cfg, sessionCookie())
			page := newSite()
			tt.prepare(page)

			out := newTestEngine(t, cfg, &fakeLauncher{page: page}, store).Run(context.Background(), validRequest())

			assert.Equal(t, tt.want, out.Kind, out.Summary())
			assert.Equal(t, tt.step, out.Step)
			require.NotNil(t, out.Artifact)
			assert.Equal(t, tt.step, out.Artifact.Step)
			require.NotEmpty(t, out.SelectorsTried)
			assert.Equal(t, out.SelectorsTried[len(out.SelectorsTried)-1], out.LastSelector)
			assert.Contains(t, out.Summary(), fmt.Sprintf("(exit %d", tt.want.ExitCode()))
		})
	}
}

func TestEngineRejectsInvalidRequest(t *testing.T) {
	tests := map[string]func(r *Request){
		"pickup with shipping cost": func(r *Request) { r.Offer.ShippingCost = cost(5) },
		"shipping without cost":     func(r *Request) { r.Offer.Delivery = DeliveryShipping },
		"relative url":              func(r *Request) { r.ListingURL = "/s-anzeige/x/1" },
		"empty message":             func(r *Request) { r.Message = "  " },
		"bad email":                 func(r *Request) { r.Credentials.Email = "max" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			launcher := &fakeLauncher{page: newSite()}
			req := validRequest()
			mutate(&req)

			out := newTestEngine(t, cfg, launcher, nil).Run(context.Background(), req)
			assert.Equal(t, InvalidInput, out.Kind)
			assert.Equal(t, 64, out.ExitCode())
			assert.Zero(t, launcher.launched, "rejected before the browser starts")
		})
	}
}

func TestEngineBrowserSetupFailure(t *testing.T) {
	cfg := testConfig(t)
	launcher := &fakeLauncher{err: fmt.Errorf("%w: chrome not found", browser.ErrSetup)}

	out := newTestEngine(t, cfg, launcher, nil).Run(context.Background(), validRequest())
	assert.Equal(t, BrowserSetupFailed, out.Kind)
	assert.Equal(t, 5, out.ExitCode())
	assert.ErrorIs(t, out.Err, browser.ErrSetup)
	assert.Nil(t, out.Artifact)
	assert.Zero(t, launcher.shutdown)
}

func TestEngineScreenshotOnSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Diagnostics.ScreenshotOnSuccess = true
	store := saveSession(t, cfg, sessionCookie())

	out := newTestEngine(t, cfg, &fakeLauncher{page: newSite()}, store).Run(context.Background(), validRequest())
	require.Equal(t, Success, out.Kind, out.Summary())
	require.NotNil(t, out.Artifact)
	assert.Equal(t, StepSuccess, out.Artifact.Step)
	assert.Len(t, screenshots(t, cfg), 1)
}

func TestEngineCancelledRun(t *testing.T) {
	cfg := testConfig(t)
	store := saveSession(t, cfg, sessionCookie())
	launcher := &fakeLauncher{page: newSite()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestEngine(t, cfg, launcher, store).Run(ctx, validRequest())
	assert.Equal(t, LoginFailed, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, launcher.shutdown, "the browser is shut down after a cancelled run")
	require.NotNil(t, out.Artifact, "a cancelled run still gets its screenshot")
}
