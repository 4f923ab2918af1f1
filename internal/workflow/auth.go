package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/captcha"
	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

// loginPathHints mark URLs of the login flow. Still being on one after
// submitting the form means the login did not go through.
var loginPathHints = []string{"einloggen", "login", "anmelden"}

// Authenticator restores a stored session or logs in with credentials.
type Authenticator struct {
	page     browser.Page
	resolver *selectors.Resolver
	nav      *Navigator
	store    *session.Store
	site     config.SiteConfig
	timeouts config.TimeoutsConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthenticator creates an authenticator. store may be nil, in which
// case sessions are neither restored nor saved.
func NewAuthenticator(page browser.Page, resolver *selectors.Resolver, nav *Navigator, store *session.Store, site config.SiteConfig, timeouts config.TimeoutsConfig, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		page:     page,
		resolver: resolver,
		nav:      nav,
		store:    store,
		site:     site,
		timeouts: timeouts,
		logger:   logger.Named("auth"),
		now:      time.Now,
	}
}

// Authenticate leaves the browser logged in and returns the session in use.
// With allowCookies unset the stored session is neither read nor written.
//
// Failures are a *StepError matching ErrLoginFailed, or a captcha error.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials, allowCookies bool) (session.Session, error) {
	if allowCookies && a.store != nil {
		sess, ok, err := a.restore(ctx)
		if err != nil {
			return session.Session{}, err
		}
		if ok {
			return sess, nil
		}
	} else {
		a.logger.Info("Skipping stored session.")
	}

	if creds.Empty() {
		return session.Session{}, a.fail(errors.New("no valid session and no credentials given"))
	}

	sess, err := a.login(ctx, creds)
	if err != nil {
		return session.Session{}, err
	}

	if allowCookies && a.store != nil {
		// The run is logged in either way; a later run just logs in again.
		if err := a.store.Save(sess); err != nil {
			a.logger.Warn("Failed to save session.", zap.Error(err))
		}
	}
	return sess, nil
}

// restore installs the stored session and verifies it. ok is false whenever a
// fresh login is needed; err is set only for fatal conditions.
func (a *Authenticator) restore(ctx context.Context) (sess session.Session, ok bool, err error) {
	sess, err = a.store.Load()
	switch {
	case errors.Is(err, session.ErrNoSession):
		a.logger.Info("No stored session, logging in.")
		return session.Session{}, false, nil
	case err != nil:
		a.logger.Warn("Stored session unusable, logging in.", zap.Error(err))
		return session.Session{}, false, nil
	}

	if err := a.page.SetCookies(ctx, sess.Cookies); err != nil {
		if ctx.Err() != nil {
			return session.Session{}, false, a.fail(ctx.Err())
		}
		a.logger.Warn("Failed to install stored cookies, logging in.", zap.Error(err))
		return session.Session{}, false, nil
	}

	valid, err := a.store.IsValid(ctx, sess, a.verify)
	switch {
	case errors.Is(err, captcha.ErrDetected):
		return session.Session{}, false, err
	case ctx.Err() != nil:
		return session.Session{}, false, a.fail(ctx.Err())
	case err != nil:
		a.logger.Warn("Session check failed, logging in.", zap.Error(err))
		return session.Session{}, false, nil
	case !valid:
		a.logger.Info("Stored session rejected by the site, logging in.",
			zap.Time("captured_at", sess.CapturedAt))
		return session.Session{}, false, nil
	}

	a.logger.Info("Restored stored session.", zap.Int("cookies", len(sess.Cookies)))
	return sess, true, nil
}

// verify opens an authenticated page and looks for the login marker.
func (a *Authenticator) verify(ctx context.Context, _ session.Session) (bool, error) {
	if err := a.nav.Open(ctx, a.site.VerifyURL); err != nil {
		return false, err
	}
	if a.onLoginPage(ctx) {
		return false, nil
	}
	if _, err := a.resolver.Resolve(ctx, selectors.LoginMarker); err != nil {
		var nf *selectors.ElementNotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Authenticator) login(ctx context.Context, creds Credentials) (session.Session, error) {
	a.logger.Info("Logging in with credentials.", zap.Object("credentials", creds))

	if err := a.nav.Open(ctx, a.site.LoginURL); err != nil {
		return session.Session{}, a.failNav(err)
	}

	email, err := a.resolver.Resolve(ctx, selectors.EmailField)
	if err != nil {
		var nf *selectors.ElementNotFoundError
		if !errors.As(err, &nf) {
			return session.Session{}, a.fail(err)
		}
		a.logger.Debug("Login form not shown, following the login link.")
		if email, err = a.followLoginLink(ctx); err != nil {
			return session.Session{}, err
		}
	}
	if err := a.page.Fill(ctx, email.Query, creds.Email); err != nil {
		return session.Session{}, a.fail(fmt.Errorf("failed to enter email: %w", err))
	}

	password, err := a.resolver.Resolve(ctx, selectors.PasswordField)
	if err != nil {
		return session.Session{}, a.fail(err)
	}
	if err := a.page.Fill(ctx, password.Query, creds.Password); err != nil {
		return session.Session{}, a.fail(fmt.Errorf("failed to enter password: %w", err))
	}

	submit, err := a.resolver.Resolve(ctx, selectors.LoginSubmit)
	if err != nil {
		return session.Session{}, a.fail(err)
	}
	if err := a.page.Click(ctx, submit.Query); err != nil {
		return session.Session{}, a.fail(fmt.Errorf("failed to submit login form: %w", err))
	}
	if err := a.nav.Check(ctx); err != nil {
		return session.Session{}, err
	}

	if err := a.awaitLoginMarker(ctx); err != nil {
		return session.Session{}, err
	}

	cookies, err := a.page.Cookies(ctx)
	if err != nil {
		return session.Session{}, a.fail(fmt.Errorf("failed to read cookies: %w", err))
	}
	sess := session.Session{Cookies: cookies, CapturedAt: a.now().UTC()}
	if host := hostOf(a.site.BaseURL); host != "" {
		sess = sess.ScopedTo(host)
	}
	a.logger.Info("Logged in.", zap.Int("cookies", len(sess.Cookies)))
	return sess, nil
}

func (a *Authenticator) followLoginLink(ctx context.Context) (*selectors.Handle, error) {
	link, err := a.resolver.Resolve(ctx, selectors.LoginLink)
	if err != nil {
		return nil, a.fail(err)
	}
	if err := a.page.Click(ctx, link.Query); err != nil {
		return nil, a.fail(fmt.Errorf("failed to open login form: %w", err))
	}
	if err := a.nav.Check(ctx); err != nil {
		return nil, err
	}
	email, err := a.resolver.Resolve(ctx, selectors.EmailField)
	if err != nil {
		return nil, a.fail(err)
	}
	return email, nil
}

// awaitLoginMarker waits up to the login marker timeout for proof that the
// login went through.
func (a *Authenticator) awaitLoginMarker(ctx context.Context) error {
	markerCtx, cancel := context.WithTimeout(ctx, a.timeouts.LoginMarker)
	defer cancel()

	_, err := a.resolver.Resolve(markerCtx, selectors.LoginMarker)
	if err != nil {
		if ctx.Err() != nil {
			return a.fail(ctx.Err())
		}
		// A late captcha replaces the marker.
		if cerr := a.nav.Check(ctx); cerr != nil {
			return cerr
		}
		return a.fail(fmt.Errorf("login marker not shown within %s", a.timeouts.LoginMarker))
	}
	if a.onLoginPage(ctx) {
		return a.fail(errors.New("still on the login page after submitting"))
	}
	return nil
}

func (a *Authenticator) onLoginPage(ctx context.Context) bool {
	loc, err := a.page.Location(ctx)
	if err != nil {
		return false
	}
	return isLoginURL(loc)
}

func (a *Authenticator) failNav(err error) error {
	if errors.Is(err, captcha.ErrDetected) {
		return err
	}
	return a.fail(err)
}

func (a *Authenticator) fail(err error) error {
	return newStepError(StepAuthenticate, ErrLoginFailed, a.resolver.LastAttempt(), err)
}

func isLoginURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, hint := range loginPathHints {
		if strings.Contains(p, hint) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
