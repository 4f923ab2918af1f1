package selectors

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
)

// Handle identifies the element a chain resolved to.
type Handle struct {
	Element  string
	Selector string
	Query    browser.Query
	// Index is the position of Selector in the chain.
	Index int
}

// ElementNotFoundError reports that no selector of a chain resolved.
type ElementNotFoundError struct {
	Element string
	Tried   []string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q not found after trying %d selector(s): %s",
		e.Element, len(e.Tried), strings.Join(e.Tried, " | "))
}

// Attempt records the selectors tried during the most recent resolution.
type Attempt struct {
	Element string
	Tried   []string
}

// Last returns the final selector tried, or "".
func (a Attempt) Last() string {
	if len(a.Tried) == 0 {
		return ""
	}
	return a.Tried[len(a.Tried)-1]
}

type resolveOptions struct {
	scope   *Handle
	timeout time.Duration
}

// ResolveOption customizes a single Resolve call.
type ResolveOption func(*resolveOptions)

// Within scopes the lookup to descendants of scope. Selectors that cannot
// be combined with the scope's query kind are tried unscoped.
func Within(scope *Handle) ResolveOption {
	return func(o *resolveOptions) { o.scope = scope }
}

// WithAttemptTimeout overrides the per-selector timeout.
func WithAttemptTimeout(d time.Duration) ResolveOption {
	return func(o *resolveOptions) { o.timeout = d }
}

// Resolver tries selector chains against a page, strictly in order.
type Resolver struct {
	page           browser.Page
	set            *Set
	attemptTimeout time.Duration
	logger         *zap.Logger

	mu   sync.Mutex
	last Attempt
}

// NewResolver creates a resolver. attemptTimeout bounds each single selector.
func NewResolver(page browser.Page, set *Set, attemptTimeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		page:           page,
		set:            set,
		attemptTimeout: attemptTimeout,
		logger:         logger.Named("resolver"),
	}
}

// Set returns the selector set the resolver works on.
func (r *Resolver) Set() *Set {
	return r.set
}

// Resolve returns a handle for the first selector of element's chain that
// becomes visible within the per-attempt timeout. Selector k+1 is never
// tried once selector k resolved.
//
// It returns *ElementNotFoundError when the whole chain fails, or the
// context error when ctx ends during the search.
func (r *Resolver) Resolve(ctx context.Context, element string, opts ...ResolveOption) (*Handle, error) {
	o := resolveOptions{timeout: r.attemptTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	chain := r.set.Chain(element)
	if chain == nil {
		return nil, fmt.Errorf("unknown element %q", element)
	}

	tried := make([]string, 0, len(chain))
	for i, sel := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q := sel.Query
		if o.scope != nil {
			if scoped, ok := q.Within(o.scope.Query); ok {
				q = scoped
			}
		}

		tried = append(tried, sel.Raw)
		r.record(element, tried)

		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		err := r.page.WaitVisible(attemptCtx, q)
		cancel()

		if err == nil {
			r.logger.Debug("Resolved element.",
				zap.String("element", element),
				zap.String("selector", sel.Raw),
				zap.Int("index", i))
			return &Handle{Element: element, Selector: sel.Raw, Query: q, Index: i}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Debug("Selector attempt failed.",
			zap.String("element", element),
			zap.String("selector", sel.Raw),
			zap.Int("index", i),
			zap.Error(err))
	}

	return nil, &ElementNotFoundError{Element: element, Tried: tried}
}

// AttemptTimeout is the default bound of one selector attempt.
func (r *Resolver) AttemptTimeout() time.Duration {
	return r.attemptTimeout
}

// LastAttempt returns the selectors tried by the most recent Resolve.
func (r *Resolver) LastAttempt() Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Attempt{Element: r.last.Element, Tried: append([]string(nil), r.last.Tried...)}
}

func (r *Resolver) record(element string, tried []string) {
	r.mu.Lock()
	r.last = Attempt{Element: element, Tried: append([]string(nil), tried...)}
	r.mu.Unlock()
}
