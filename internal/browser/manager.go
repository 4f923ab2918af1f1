// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser/stealth"
	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/humanoid"
)

const defaultLaunchTimeout = 60 * time.Second

// Flag is a single Chrome command line switch.
type Flag struct {
	Name  string
	Value interface{}
}

// AllocatorFlags lists the switches layered over chromedp's defaults. A
// false boolean removes a default switch.
func AllocatorFlags(cfg config.BrowserConfig) []Flag {
	persona := stealth.FromConfig(cfg.Persona)

	flags := []Flag{
		// Hides the "controlled by automated software" infobar and the
		// navigator.webdriver signal.
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"headless", cfg.Headless},
		{"ignore-certificate-errors", cfg.IgnoreTLSErrors},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
		{"user-agent", persona.UserAgent},
		{"lang", persona.Locale},
	}

	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags = append(flags, Flag{"window-size", fmt.Sprintf("%d,%d", w, h)})
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, Flag{name, parts[1]})
		} else {
			flags = append(flags, Flag{name, true})
		}
	}

	// Needed inside containers.
	if runtime.GOOS == "linux" {
		flags = append(flags,
			Flag{"no-sandbox", true},
			Flag{"disable-dev-shm-usage", true},
			Flag{"disable-setuid-sandbox", true},
		)
	}
	return flags
}

// DefaultAllocatorOptions assembles the exec allocator options for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range AllocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Manager owns the Chrome process and the tab the workflow runs in.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
	pacer  *humanoid.Pacer

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        []tab
}

// tab is an open chromedp target and the function that releases it.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager. The browser is started lazily by Launch.
func NewManager(logger *zap.Logger, cfg config.BrowserConfig, pacer *humanoid.Pacer) *Manager {
	if pacer == nil {
		pacer = humanoid.Disabled()
	}
	return &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pacer:  pacer,
	}
}

// Launch starts Chrome if needed and opens a new stealth-prepared tab.
//
// The process lives under a context detached from ctx, so cancelling the run
// does not kill the browser before a failure screenshot can be taken. Call
// Shutdown to terminate it.
func (m *Manager) Launch(ctx context.Context) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allocCtx == nil {
		m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Headless))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(Detach(ctx), DefaultAllocatorOptions(m.cfg)...)
	}

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}

	// The first Run on tabCtx allocates the browser, and whatever context it
	// receives owns the process. Bound it with a timer and the caller's
	// context instead of a derived deadline.
	timer := time.AfterFunc(timeout, tabCancel)
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx,
		stealth.Apply(stealth.FromConfig(m.cfg.Persona), m.logger),
		chromedp.Navigate("about:blank"),
	)
	timedOut := !timer.Stop()
	stop()

	if err != nil {
		tabCancel()
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %w", ErrSetup, ctx.Err())
		case timedOut:
			return nil, fmt.Errorf("%w: browser did not respond within %s", ErrSetup, timeout)
		default:
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
	}

	m.tabs = append(m.tabs, tab{ctx: tabCtx, cancel: tabCancel})
	m.logger.Info("Browser launched successfully and is responsive.")
	return &cdpPage{
		ctx:    tabCtx,
		pacer:  m.pacer,
		logger: m.logger.Named("page"),
	}, nil
}

// Shutdown closes every tab and terminates the browser process, waiting at
// most until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allocCancel == nil {
		return nil
	}
	m.logger.Info("Shutting down browser...")

	tabs, allocCtx, allocCancel := m.tabs, m.allocCtx, m.allocCancel
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, t := range tabs {
			// Graceful close; errors only mean the tab is already gone.
			_ = chromedp.Cancel(t.ctx)
			t.cancel()
		}
		allocCancel()
		<-allocCtx.Done()
	}()

	var err error
	select {
	case <-done:
		m.logger.Info("Browser shut down.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
		for _, t := range tabs {
			t.cancel()
		}
		allocCancel()
		err = ctx.Err()
	}

	m.tabs = nil
	m.allocCtx, m.allocCancel = nil, nil
	return err
}
