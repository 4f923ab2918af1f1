// File: internal/mocks/fake_page.go
package mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

// ErrNotVisible is returned by FakePage when a query matches nothing.
var ErrNotVisible = errors.New("fake page: element not visible")

// FakeScreenshot is the payload FakePage returns for every screenshot.
var FakeScreenshot = []byte("\x89PNG\r\n\x1a\nfake")

// PageState is the DOM of one URL as seen by FakePage. Keys are selector
// expressions (browser.Query.Expr).
type PageState struct {
	Visible map[string]bool
	Texts   map[string]string
	HTML    map[string]string
	// Options lists the option labels of a <select>.
	Options map[string][]string

	// OnClick and OnEnter run after a successful click or key press on the
	// keyed element, with the page lock released.
	OnClick map[string]func(p *FakePage)
	OnEnter map[string]func(p *FakePage)
}

func newPageState() *PageState {
	return &PageState{
		Visible: map[string]bool{},
		Texts:   map[string]string{},
		HTML:    map[string]string{},
		Options: map[string][]string{},
		OnClick: map[string]func(p *FakePage){},
		OnEnter: map[string]func(p *FakePage){},
	}
}

// FakePage is an in-memory browser.Page. It never waits: an element is
// either visible on the current URL or the call fails at once.
type FakePage struct {
	mu sync.Mutex

	url   string
	pages map[string]*PageState

	// Redirects maps a requested URL to the URL actually landed on.
	Redirects map[string]string
	// NavErrs are consumed one per Navigate call; nil entries succeed.
	NavErrs []error
	// ScreenshotErr makes every screenshot fail.
	ScreenshotErr error

	jar []session.Cookie

	Navigations []string
	Filled      map[string]string
	Selected    map[string]string
	Clicked     []string
	Entered     []string
	Screenshots int
	CookiesSet  int
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage returns an empty fake positioned at about:blank.
func NewFakePage() *FakePage {
	return &FakePage{
		url:       "about:blank",
		pages:     map[string]*PageState{},
		Redirects: map[string]string{},
		Filled:    map[string]string{},
		Selected:  map[string]string{},
	}
}

// Page returns the state for url, creating it on first use.
func (p *FakePage) Page(url string) *PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageLocked(url)
}

func (p *FakePage) pageLocked(url string) *PageState {
	st, ok := p.pages[url]
	if !ok {
		st = newPageState()
		p.pages[url] = st
	}
	return st
}

// Show makes the raw selectors visible on url.
func (p *FakePage) Show(url string, raw ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.pageLocked(url)
	for _, r := range raw {
		st.Visible[browser.MustParseSelector(r).Expr] = true
	}
}

// Hide removes the raw selectors from url.
func (p *FakePage) Hide(url string, raw ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.pageLocked(url)
	for _, r := range raw {
		delete(st.Visible, browser.MustParseSelector(r).Expr)
	}
}

// Goto moves the fake to url without recording a navigation, as a
// client-side redirect would.
func (p *FakePage) Goto(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// URL returns the current location.
func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Jar returns the cookies currently installed.
func (p *FakePage) Jar() []session.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.Cookie(nil), p.jar...)
}

// SetJar replaces the cookie jar without counting a SetCookies call.
func (p *FakePage) SetJar(cookies []session.Cookie) {
	p.mu.Lock()
	p.jar = append([]session.Cookie(nil), cookies...)
	p.mu.Unlock()
}

// matchLocked finds the visible key q refers to. Scoped queries produced by
// browser.Query.Within match their unscoped key.
func (p *FakePage) matchLocked(q browser.Query) (string, bool) {
	st := p.pageLocked(p.url)
	if st.Visible[q.Expr] {
		return q.Expr, true
	}
	for key := range st.Visible {
		if strings.HasSuffix(q.Expr, " "+key) || strings.HasSuffix(q.Expr, ")[1]"+key) {
			return key, true
		}
	}
	return "", false
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	if len(p.NavErrs) > 0 {
		err := p.NavErrs[0]
		p.NavErrs = p.NavErrs[1:]
		if err != nil {
			p.mu.Unlock()
			return &browser.NavigationError{URL: url, Err: err}
		}
	}
	if target, ok := p.Redirects[url]; ok {
		url = target
	}
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *FakePage) WaitVisible(ctx context.Context, q browser.Query) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.matchLocked(q); !ok {
		return fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	return nil
}

func (p *FakePage) Exists(ctx context.Context, q browser.Query) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.matchLocked(q)
	return ok, nil
}

func (p *FakePage) Click(ctx context.Context, q browser.Query) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	key, ok := p.matchLocked(q)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	p.Clicked = append(p.Clicked, key)
	hook := p.pageLocked(p.url).OnClick[key]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *FakePage) Fill(ctx context.Context, q browser.Query, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.matchLocked(q)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	p.Filled[key] = text
	return nil
}

func (p *FakePage) SelectOption(ctx context.Context, q browser.Query, option string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.matchLocked(q)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	for _, o := range p.pageLocked(p.url).Options[key] {
		if o == option {
			p.Selected[key] = option
			return nil
		}
	}
	return fmt.Errorf("fake page: no option %q in %s", option, key)
}

func (p *FakePage) PressEnter(ctx context.Context, q browser.Query) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	key, ok := p.matchLocked(q)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	p.Entered = append(p.Entered, key)
	hook := p.pageLocked(p.url).OnEnter[key]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *FakePage) Text(ctx context.Context, q browser.Query) (string, error) {
	return p.lookup(ctx, q, func(st *PageState) map[string]string { return st.Texts })
}

func (p *FakePage) OuterHTML(ctx context.Context, q browser.Query) (string, error) {
	return p.lookup(ctx, q, func(st *PageState) map[string]string { return st.HTML })
}

func (p *FakePage) lookup(ctx context.Context, q browser.Query, field func(*PageState) map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.matchLocked(q)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	return field(p.pageLocked(p.url))[key], nil
}

func (p *FakePage) Location(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.URL(), nil
}

func (p *FakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	p.Screenshots++
	return append([]byte(nil), FakeScreenshot...), nil
}

func (p *FakePage) Cookies(ctx context.Context) ([]session.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.Jar(), nil
}

func (p *FakePage) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.jar = append([]session.Cookie(nil), cookies...)
	p.CookiesSet++
	p.mu.Unlock()
	return nil
}
