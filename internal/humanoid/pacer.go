// -- internal/humanoid/pacer.go --
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/haggle-cli/internal/config"
)

// Kind names a class of human pause.
type Kind int

const (
	// Typing is the gap between two keystrokes.
	Typing Kind = iota
	// Reading follows a page load.
	Reading
	// Thinking precedes a decision such as a click.
	Thinking
	// Navigating precedes leaving a page.
	Navigating
)

func (k Kind) String() string {
	switch k {
	case Typing:
		return "typing"
	case Reading:
		return "reading"
	case Thinking:
		return "thinking"
	case Navigating:
		return "navigating"
	default:
		return "unknown"
	}
}

// longPauseFactor stretches a pause when the "distracted" roll succeeds.
const longPauseFactor = 2.5

// Pacer spaces browser actions out the way a person would and steers the
// pointer. A disabled Pacer never sleeps, which keeps tests fast and
// deterministic.
type Pacer struct {
	mu      sync.Mutex
	cfg     config.HumanoidConfig
	rng     *rand.Rand
	limiter *rate.Limiter
	logger  *zap.Logger

	// pos is the pointer position once placed.
	pos    Vector2D
	placed bool

	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes a Pacer.
type Option func(*Pacer)

// WithRand makes the pacer deterministic.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pacer) { p.rng = rng }
}

// WithSleep replaces the sleeping primitive.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pacer) { p.sleep = sleep }
}

// New creates a Pacer for cfg.
func New(cfg config.HumanoidConfig, logger *zap.Logger, opts ...Option) *Pacer {
	p := &Pacer{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.Named("humanoid"),
		sleep:  sleepContext,
	}
	if cfg.Enabled && cfg.ActionsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Disabled returns a Pacer that never waits.
func Disabled() *Pacer {
	return New(config.HumanoidConfig{}, zap.NewNop())
}

// Enabled reports whether the pacer introduces any delay.
func (p *Pacer) Enabled() bool {
	return p != nil && p.cfg.Enabled
}

// Pause sleeps for a random duration of the given kind, or until ctx is done.
func (p *Pacer) Pause(ctx context.Context, kind Kind) error {
	if !p.Enabled() {
		return ctx.Err()
	}
	d := p.Delay(kind)
	if d <= 0 {
		return ctx.Err()
	}
	p.logger.Debug("Pausing.", zap.Stringer("kind", kind), zap.Duration("duration", d))
	return p.sleep(ctx, d)
}

// Act blocks until the action rate limit admits one more UI action.
func (p *Pacer) Act(ctx context.Context) error {
	if !p.Enabled() || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// Delay draws a pause duration of the given kind.
func (p *Pacer) Delay(kind Kind) time.Duration {
	if !p.Enabled() {
		return 0
	}
	lo, hi := p.bounds(kind)

	p.mu.Lock()
	defer p.mu.Unlock()
	d := uniform(p.rng, lo, hi)
	if kind != Typing && p.cfg.LongPauseProbability > 0 && p.rng.Float64() < p.cfg.LongPauseProbability {
		d = time.Duration(float64(d) * longPauseFactor)
	}
	return d
}

func (p *Pacer) bounds(kind Kind) (time.Duration, time.Duration) {
	switch kind {
	case Typing:
		return p.cfg.TypingMin, p.cfg.TypingMax
	case Reading:
		return p.cfg.ReadingMin, p.cfg.ReadingMax
	case Thinking:
		return p.cfg.ThinkingMin, p.cfg.ThinkingMax
	case Navigating:
		return p.cfg.NavigatingMin, p.cfg.NavigatingMax
	default:
		return 0, 0
	}
}

func uniform(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}

func uniformFloat(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
