package workflow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/captcha"
	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
)

// Navigator loads pages for every step. Network-class failures are retried
// with exponential backoff, everything else fails at once. Each landed page
// is checked for a captcha.
type Navigator struct {
	page     browser.Page
	detector *captcha.Detector
	banner   []selectors.Selector
	retry    config.RetryConfig
	timeout  time.Duration
	logger   *zap.Logger

	// backoffFactory and timer are replaced in tests.
	backoffFactory func() backoff.BackOff
	timer          backoff.Timer

	bannerChecked bool
}

// NewNavigator creates a navigator. timeout bounds every single page load.
func NewNavigator(page browser.Page, detector *captcha.Detector, set *selectors.Set, retry config.RetryConfig, timeout time.Duration, logger *zap.Logger) *Navigator {
	n := &Navigator{
		page:     page,
		detector: detector,
		banner:   set.Chain(selectors.CookieBanner),
		retry:    retry,
		timeout:  timeout,
		logger:   logger.Named("navigator"),
	}
	n.backoffFactory = func() backoff.BackOff {
		return newExponentialBackOff(retry.BaseDelay, retry.MaxDelay, 0)
	}
	return n
}

// newExponentialBackOff doubles from initial up to maxInterval without jitter.
// A zero maxElapsed retries forever and leaves the bound to the caller.
func newExponentialBackOff(initial, maxInterval, maxElapsed time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = maxElapsed
	b.Reset()
	return b
}

// Open loads url and checks the result for a captcha. Transient failures
// are retried up to the configured number of times.
func (n *Navigator) Open(ctx context.Context, url string) error {
	attempt := 0
	operation := func() error {
		attempt++
		navCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		err := n.page.Navigate(navCtx, url)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !browser.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		n.logger.Warn("Retrying navigation after transient failure.",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(n.backoffFactory(), uint64(n.retry.MaxRetries)), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, n.timer); err != nil {
		return err
	}
	n.logger.Debug("Navigated.", zap.String("url", url), zap.Int("attempts", attempt))

	if err := n.Check(ctx); err != nil {
		return err
	}
	n.dismissCookieBanner(ctx)
	return nil
}

// Check runs the captcha detector on the current page. Steps call it after
// clicks that may load a new page.
func (n *Navigator) Check(ctx context.Context) error {
	return n.detector.Check(ctx)
}

// dismissCookieBanner accepts the consent banner once, after the first
// successful navigation. It never fails the run.
func (n *Navigator) dismissCookieBanner(ctx context.Context) {
	if n.bannerChecked {
		return
	}
	n.bannerChecked = true

	for _, sel := range n.banner {
		found, err := n.page.Exists(ctx, sel.Query)
		if err != nil || !found {
			continue
		}
		if err := n.page.Click(ctx, sel.Query); err != nil {
			n.logger.Debug("Failed to dismiss cookie banner.", zap.String("selector", sel.Raw), zap.Error(err))
			continue
		}
		n.logger.Info("Cookie banner dismissed.", zap.String("selector", sel.Raw))
		return
	}
}
