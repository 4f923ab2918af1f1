// internal/browser/interface.go
package browser

import (
	"context"

	"github.com/xkilldash9x/haggle-cli/internal/session"
)

// Page is the driver surface the workflow needs from a browser tab. Every
// method blocks until the action completes or ctx is done.
type Page interface {
	// Navigate loads url and waits for the load event. Failures are
	// reported as *NavigationError.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until an element matching q is visible.
	WaitVisible(ctx context.Context, q Query) error
	// Exists reports whether an element matching q is in the DOM right now.
	Exists(ctx context.Context, q Query) (bool, error)

	Click(ctx context.Context, q Query) error
	// Fill replaces the value of the matched input with text, typing it key by key.
	Fill(ctx context.Context, q Query, text string) error
	// SelectOption picks the option of a <select> whose value or label equals option.
	SelectOption(ctx context.Context, q Query, option string) error
	PressEnter(ctx context.Context, q Query) error

	Text(ctx context.Context, q Query) (string, error)
	OuterHTML(ctx context.Context, q Query) (string, error)
	Location(ctx context.Context) (string, error)
	// Screenshot returns a PNG of the viewport, or of the whole page when fullPage is set.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	Cookies(ctx context.Context) ([]session.Cookie, error)
	SetCookies(ctx context.Context, cookies []session.Cookie) error
}
