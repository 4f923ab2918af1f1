package workflow

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/captcha"
	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/diagnostics"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

// shutdownTimeout bounds browser teardown after a run.
const shutdownTimeout = 10 * time.Second

// Launcher starts and stops the browser. *browser.Manager implements it.
type Launcher interface {
	Launch(ctx context.Context) (browser.Page, error)
	Shutdown(ctx context.Context) error
}

var _ Launcher = (*browser.Manager)(nil)

// Request is everything one run needs.
type Request struct {
	ListingURL   string
	Credentials  Credentials
	Message      string
	Offer        OfferSpec
	AllowCookies bool
}

// Validate rejects a request before any browser work. The returned error
// is always a *ConfigError.
func (r Request) Validate() error {
	u, err := url.Parse(strings.TrimSpace(r.ListingURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: "listing URL", Reason: "must be an absolute http(s) URL"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ConfigError{Field: "message", Reason: "must not be empty"}
	}
	if r.Credentials.Email != "" && !strings.Contains(r.Credentials.Email, "@") {
		return &ConfigError{Field: "email", Reason: "must be an email address"}
	}
	return r.Offer.Validate()
}

// Engine runs the steps in their fixed order and turns the first failure
// into an Outcome. It alone captures diagnostics and picks exit codes.
type Engine struct {
	cfg      *config.Config
	launcher Launcher
	set      *selectors.Set
	store    *session.Store
	logger   *zap.Logger
	now      func() time.Time

	// timer drives every backoff wait of a run; nil means real time.
	timer backoff.Timer
}

// NewEngine wires an engine. store may be nil to disable session reuse.
func NewEngine(cfg *config.Config, launcher Launcher, set *selectors.Set, store *session.Store, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		launcher: launcher,
		set:      set,
		store:    store,
		logger:   logger.Named("engine"),
		now:      time.Now,
	}
}

// run holds the per-run wiring.
type run struct {
	page     browser.Page
	resolver *selectors.Resolver
	recorder *diagnostics.Recorder
	logger   *zap.Logger
}

// Run executes one full interaction. It never panics on site behaviour and
// always returns an Outcome; the browser is shut down before it returns.
func (e *Engine) Run(ctx context.Context, req Request) (out Outcome) {
	runID := uuid.NewString()
	start := e.now()
	logger := e.logger.With(zap.String("run_id", runID))
	defer func() {
		out.RunID = runID
		out.Duration = e.now().Sub(start)
		logger.Info("Run finished.",
			zap.String("outcome", out.Kind.String()),
			zap.Int("exit_code", out.ExitCode()),
			zap.Duration("duration", out.Duration))
	}()

	if err := req.Validate(); err != nil {
		logger.Error("Rejected run configuration.", zap.Error(err))
		return Outcome{Kind: InvalidInput, Err: err}
	}
	logger.Info("Starting run.",
		zap.String("listing", req.ListingURL),
		zap.Object("credentials", req.Credentials),
		zap.Bool("allow_cookies", req.AllowCookies))

	page, err := e.launcher.Launch(diagnostics.WithStep(ctx, StepBrowserSetup))
	if err != nil {
		logger.Error("Browser setup failed.", zap.Error(err))
		return Outcome{Kind: BrowserSetupFailed, Step: StepBrowserSetup, Err: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(browser.Detach(ctx), shutdownTimeout)
		defer cancel()
		if err := e.launcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown failed.", zap.Error(err))
		}
	}()

	r := &run{
		page:     page,
		resolver: selectors.NewResolver(page, e.set, e.cfg.Timeouts.SelectorAttempt, logger),
		recorder: diagnostics.NewRecorder(e.cfg.Diagnostics.Dir, e.cfg.Diagnostics.FullPage, e.cfg.Diagnostics.CaptureTimeout, logger),
		logger:   logger,
	}
	detector := captcha.NewDetector(page, e.set, r.recorder, logger)
	nav := NewNavigator(page, detector, e.set, e.cfg.Retry, e.cfg.Timeouts.Navigation, logger)
	nav.timer = e.timer

	auth := NewAuthenticator(page, r.resolver, nav, e.store, e.cfg.Site, e.cfg.Timeouts, logger)
	sender := NewMessageSender(page, r.resolver, nav, e.cfg.Timeouts.Confirmation, logger)
	locator := NewConversationNavigator(page, r.resolver, nav, e.cfg.Site, e.cfg.Timeouts, e.cfg.Retry, logger)
	locator.timer = e.timer
	submitter := NewOfferSubmitter(page, r.resolver, nav, e.cfg.Timeouts.Confirmation, logger)

	stepCtx := diagnostics.WithStep(ctx, StepAuthenticate)
	if _, err := auth.Authenticate(stepCtx, req.Credentials, req.AllowCookies); err != nil {
		return e.fail(stepCtx, r, StepAuthenticate, err)
	}

	stepCtx = diagnostics.WithStep(ctx, StepSendMessage)
	sent, err := sender.Send(stepCtx, req.ListingURL, req.Message)
	if err != nil {
		return e.fail(stepCtx, r, StepSendMessage, err)
	}

	stepCtx = diagnostics.WithStep(ctx, StepLocateConversation)
	conv, err := locator.Locate(stepCtx, sent.Listing)
	if err != nil {
		return e.fail(stepCtx, r, StepLocateConversation, err)
	}

	stepCtx = diagnostics.WithStep(ctx, StepMakeOffer)
	if _, err := submitter.Submit(stepCtx, conv, req.Offer); err != nil {
		return e.fail(stepCtx, r, StepMakeOffer, err)
	}

	out = Outcome{Kind: Success}
	if e.cfg.Diagnostics.ScreenshotOnSuccess {
		a, err := r.recorder.Capture(ctx, page, StepSuccess)
		if err != nil {
			logger.Warn("Failed to capture success screenshot.", zap.Error(err))
		} else {
			out.Artifact = a
		}
	}
	return out
}

// fail classifies err, captures the failure screenshot, and builds the
// outcome. A captcha error already carries its screenshot.
func (e *Engine) fail(ctx context.Context, r *run, step string, err error) Outcome {
	out := Outcome{Kind: classify(step, err), Step: step, Err: err}

	var detected *captcha.DetectedError
	if errors.As(err, &detected) && detected.Artifact != nil {
		out.Artifact = detected.Artifact
	} else {
		a, cerr := r.recorder.Capture(ctx, r.page, step)
		if cerr != nil {
			r.logger.Warn("Failed to capture failure screenshot.", zap.Error(cerr))
		} else {
			out.Artifact = a
		}
	}

	var stepErr *StepError
	var notFound *selectors.ElementNotFoundError
	switch {
	case errors.As(err, &notFound):
		out.SelectorsTried = append([]string(nil), notFound.Tried...)
	case errors.As(err, &stepErr) && stepErr.LastSelector != "":
		out.SelectorsTried = append([]string(nil), stepErr.SelectorsTried...)
	default:
		out.SelectorsTried = r.resolver.LastAttempt().Tried
	}
	if n := len(out.SelectorsTried); n > 0 {
		out.LastSelector = out.SelectorsTried[n-1]
	}

	fields := []zap.Field{
		zap.String("step", step),
		zap.String("outcome", out.Kind.String()),
		zap.String("last_selector", out.LastSelector),
		zap.Strings("selectors_tried", out.SelectorsTried),
		zap.Error(err),
	}
	if out.Artifact != nil {
		fields = append(fields, zap.String("screenshot", out.Artifact.ScreenshotPath))
	}
	r.logger.Error("Workflow step failed.", fields...)
	return out
}

// classify maps a step failure to its outcome kind. A captcha wins over
// the step's own kind.
func classify(step string, err error) Kind {
	if errors.Is(err, captcha.ErrDetected) {
		return CaptchaDetected
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return InvalidInput
	}
	if k, ok := kindForStep[step]; ok {
		return k
	}
	return BrowserSetupFailed
}
