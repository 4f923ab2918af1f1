package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/captcha"
	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/diagnostics"
	"github.com/xkilldash9x/haggle-cli/internal/mocks"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

const (
	baseURL         = "https://www.kleinanzeigen.de"
	homeURL         = baseURL + "/"
	loginURL        = baseURL + "/m-einloggen.html"
	inboxURL        = baseURL + "/nachrichtenbox"
	listingURL      = baseURL + "/s-anzeige/fahrrad-28-zoll/2712345678-217-1234"
	listingID       = "2712345678"
	conversationURL = baseURL + "/nachrichtenbox/conv-42"

	captchaMarker = "iframe[src*='captcha']"
	offerButton   = "xpath=//button[contains(normalize-space(.), 'Angebot machen')]"
	offerSubmit   = "xpath=//button[contains(normalize-space(.), 'Angebot senden')]"
)

const inboxHTML = `<ul data-testid="conversation-list">
  <li data-testid="conversation-item" data-adid="1111111111"><a href="/nachrichtenbox/conv-41">Sofa grau</a></li>
  <li data-testid="conversation-item" data-adid="2712345678"><a href="/nachrichtenbox/conv-42">Fahrrad 28 Zoll</a></li>
</ul>`

// fakeTimer fires at once and records every requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	f.c <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.c }

func (f *fakeTimer) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	dir := t.TempDir()
	cfg.Diagnostics.Dir = dir + "/screenshots"
	cfg.Session.Path = dir + "/cookies.json"
	cfg.Timeouts.SelectorAttempt = 200 * time.Millisecond
	return cfg
}

func testSet(t *testing.T) *selectors.Set {
	t.Helper()
	set, err := selectors.LoadDefault()
	require.NoError(t, err)
	return set
}

func sessionCookie() session.Cookie {
	return session.Cookie{
		Name:    "access_token",
		Value:   "abc",
		Domain:  ".kleinanzeigen.de",
		Path:    "/",
		Expires: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second),
		Secure:  true,
	}
}

// newSite builds a fake of the site: a login form that logs in on submit,
// an inbox that lists the conversation, a listing with a message form, and
// a conversation with an offer form.
func newSite() *mocks.FakePage {
	p := mocks.NewFakePage()

	p.Show(loginURL, "input#login-email", "input#login-password", "button#login-submit")
	p.Page(loginURL).OnClick["button#login-submit"] = func(p *mocks.FakePage) {
		p.SetJar([]session.Cookie{
			sessionCookie(),
			{Name: "_ga", Value: "tracker", Domain: ".google-analytics.com", Path: "/"},
		})
		p.Goto(homeURL)
	}
	p.Show(homeURL, "a[href*='/nachrichtenbox']")

	p.Show(inboxURL, "a[href*='/nachrichtenbox']", "[data-testid='conversation-list']")
	p.Page(inboxURL).HTML["[data-testid='conversation-list']"] = inboxHTML

	p.Show(listingURL, "#viewad-title", "a#viewad-contact")
	p.Page(listingURL).Texts["#viewad-title"] = "  Fahrrad 28 Zoll\n"
	p.Page(listingURL).OnClick["a#viewad-contact"] = func(p *mocks.FakePage) {
		p.Show(listingURL, "textarea#message-text", "button#message-send")
	}
	p.Page(listingURL).OnClick["button#message-send"] = func(p *mocks.FakePage) {
		p.Show(listingURL, "[class*='message-sent']")
	}

	p.Show(conversationURL, offerButton)
	conv := p.Page(conversationURL)
	conv.OnClick[browser.MustParseSelector(offerButton).Expr] = func(p *mocks.FakePage) {
		p.Show(conversationURL, "form[class*='offer']", "input[name*='price']", "select[name*='delivery']", "input[name*='shipping']", "textarea[name*='note']", offerSubmit)
	}
	conv.Options["select[name*='delivery']"] = []string{"Abholung", "Versand", "Beides"}
	conv.OnClick[browser.MustParseSelector(offerSubmit).Expr] = func(p *mocks.FakePage) {
		p.Show(conversationURL, "[class*='offer-sent']")
	}
	return p
}

// stepEnv wires the step components around one page the way the engine does.
type stepEnv struct {
	page     browser.Page
	resolver *selectors.Resolver
	recorder *diagnostics.Recorder
	nav      *Navigator
	timer    *fakeTimer
}

func newStepEnv(t *testing.T, page browser.Page, cfg *config.Config, logger *zap.Logger) *stepEnv {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	set := testSet(t)
	env := &stepEnv{
		page:     page,
		resolver: selectors.NewResolver(page, set, cfg.Timeouts.SelectorAttempt, logger),
		recorder: diagnostics.NewRecorder(cfg.Diagnostics.Dir, true, time.Second, logger),
		timer:    newFakeTimer(),
	}
	detector := captcha.NewDetector(page, set, env.recorder, logger)
	env.nav = NewNavigator(page, detector, set, cfg.Retry, cfg.Timeouts.Navigation, logger)
	env.nav.timer = env.timer
	return env
}

func stepCtx(step string) context.Context {
	return diagnostics.WithStep(context.Background(), step)
}

// fakeLauncher hands out a prepared page.
type fakeLauncher struct {
	page     browser.Page
	err      error
	launched int
	shutdown int
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Page, error) {
	l.launched++
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

func (l *fakeLauncher) Shutdown(ctx context.Context) error {
	l.shutdown++
	return nil
}
