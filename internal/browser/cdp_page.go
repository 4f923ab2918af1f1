// internal/browser/cdp_page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/humanoid"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

// selectOptionJS picks an option by value, then by exact label, then by a
// label containing the wanted text. %s is a JSON string literal.
const selectOptionJS = `function() {
	const want = %s;
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const options = Array.from(this.options || []);
	const hit = options.find((o) => o.value === want)
		|| options.find((o) => norm(o.label || o.text) === norm(want))
		|| options.find((o) => norm(o.text).includes(norm(want)));
	if (!hit) {
		throw new Error('no option matching ' + want);
	}
	this.value = hit.value;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return hit.value;
}`

// errNoGeometry marks a click target whose box could not be measured. The
// click then falls back to chromedp's own.
var errNoGeometry = errors.New("element geometry unavailable")

// cdpPointer sends mouse events over the tab's CDP session.
type cdpPointer struct{}

func (cdpPointer) DispatchMouseEvent(ctx context.Context, params *input.DispatchMouseEventParams) error {
	return params.Do(ctx)
}

// cdpPage drives one Chrome tab through chromedp.
type cdpPage struct {
	// ctx is the chromedp tab context. Operation contexts are combined with
	// it so they carry the target while keeping their own deadline.
	ctx    context.Context
	pacer  *humanoid.Pacer
	logger *zap.Logger
}

var _ Page = (*cdpPage)(nil)

func by(q Query) chromedp.QueryOption {
	if q.Kind == XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// runActions executes actions on the tab, bounded by ctx. When ctx ends
// first its own error is returned so deadlines stay recognizable.
func (p *cdpPage) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	if err := p.pacer.Pause(ctx, humanoid.Navigating); err != nil {
		return err
	}
	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := p.runActions(ctx, chromedp.Navigate(url)); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return p.pacer.Pause(ctx, humanoid.Reading)
}

func (p *cdpPage) WaitVisible(ctx context.Context, q Query) error {
	return p.runActions(ctx, chromedp.WaitVisible(q.Expr, by(q)))
}

func (p *cdpPage) Exists(ctx context.Context, q Query) (bool, error) {
	var nodes []*cdp.Node
	if err := p.runActions(ctx, chromedp.Nodes(q.Expr, &nodes, by(q), chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *cdpPage) Click(ctx context.Context, q Query) error {
	if err := p.pace(ctx); err != nil {
		return err
	}
	if clicked, err := p.pointAndClick(ctx, q); clicked || err != nil {
		return err
	}
	return p.runActions(ctx, chromedp.Click(q.Expr, by(q), chromedp.NodeVisible))
}

func (p *cdpPage) Fill(ctx context.Context, q Query, text string) error {
	if err := p.pace(ctx); err != nil {
		return err
	}
	if err := p.runActions(ctx,
		chromedp.WaitVisible(q.Expr, by(q)),
		chromedp.SetValue(q.Expr, "", by(q)),
	); err != nil {
		return err
	}
	clicked, err := p.pointAndClick(ctx, q)
	if err != nil {
		return err
	}
	if !clicked {
		if err := p.runActions(ctx, chromedp.Focus(q.Expr, by(q))); err != nil {
			return err
		}
	}
	return p.pacer.Type(ctx, text, func(ctx context.Context, r rune) error {
		key := string(r)
		if r == humanoid.Backspace {
			key = kb.Backspace
		}
		return p.runActions(ctx, chromedp.KeyEvent(key))
	})
}

// pointAndClick scrolls the element into view, moves the pointer onto it and
// clicks. It reports false without an error when the pacer is disabled or
// the element could not be measured, leaving the click to the caller.
func (p *cdpPage) pointAndClick(ctx context.Context, q Query) (bool, error) {
	if !p.pacer.Enabled() {
		return false, nil
	}
	err := p.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return p.humanClick(ctx, q)
	}))
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() == nil && errors.Is(err, errNoGeometry):
		p.logger.Debug("Falling back to a direct click.", zap.String("selector", q.Expr), zap.Error(err))
		return false, nil
	default:
		return false, err
	}
}

// humanClick runs inside a chromedp action on the tab.
func (p *cdpPage) humanClick(ctx context.Context, q Query) error {
	var nodes []*cdp.Node
	if err := chromedp.Nodes(q.Expr, &nodes, by(q), chromedp.NodeVisible).Do(ctx); err != nil {
		return fmt.Errorf("%w: %v", errNoGeometry, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: no node matches %s", errNoGeometry, q.Expr)
	}
	id := nodes[0].BackendNodeID

	var viewportHeight float64
	if err := chromedp.Evaluate(`window.innerHeight`, &viewportHeight).Do(ctx); err != nil {
		return fmt.Errorf("%w: %v", errNoGeometry, err)
	}
	box, err := elementBox(ctx, id)
	if err != nil {
		return err
	}

	if !box.Visible(viewportHeight) {
		if err := p.pacer.ScrollIntoView(ctx, cdpPointer{}, box, viewportHeight); err != nil {
			return err
		}
		if box, err = elementBox(ctx, id); err != nil {
			return err
		}
	}
	if !box.Visible(viewportHeight) {
		// The wheel does not reach nested scroll containers.
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx); err != nil {
			return fmt.Errorf("%w: %v", errNoGeometry, err)
		}
		if box, err = elementBox(ctx, id); err != nil {
			return err
		}
	}
	return p.pacer.Click(ctx, cdpPointer{}, box)
}

// elementBox measures a node's border box in viewport coordinates.
func elementBox(ctx context.Context, id cdp.BackendNodeID) (humanoid.Box, error) {
	model, err := dom.GetBoxModel().WithBackendNodeID(id).Do(ctx)
	if err != nil {
		return humanoid.Box{}, fmt.Errorf("%w: %v", errNoGeometry, err)
	}
	return quadBox(model.Border)
}

// quadBox returns the bounding box of a four point quad.
func quadBox(q dom.Quad) (humanoid.Box, error) {
	if len(q) < 8 {
		return humanoid.Box{}, fmt.Errorf("%w: quad has %d coordinates", errNoGeometry, len(q))
	}
	minX, minY := q[0], q[1]
	maxX, maxY := q[0], q[1]
	for i := 2; i < 8; i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	if maxX-minX <= 0 || maxY-minY <= 0 {
		return humanoid.Box{}, fmt.Errorf("%w: element has no area", errNoGeometry)
	}
	return humanoid.Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, nil
}

func (p *cdpPage) SelectOption(ctx context.Context, q Query, option string) error {
	if err := p.pace(ctx); err != nil {
		return err
	}
	literal, err := jsoniter.MarshalToString(option)
	if err != nil {
		return fmt.Errorf("failed to encode option %q: %w", option, err)
	}
	var nodes []*cdp.Node
	return p.runActions(ctx,
		chromedp.Nodes(q.Expr, &nodes, by(q), chromedp.NodeVisible),
		chromedp.ActionFunc(func(ctx context.Context) error {
			obj, err := dom.ResolveNode().WithBackendNodeID(nodes[0].BackendNodeID).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve select element: %w", err)
			}
			_, exc, err := runtime.CallFunctionOn(fmt.Sprintf(selectOptionJS, literal)).
				WithObjectID(obj.ObjectID).
				WithReturnByValue(true).
				Do(ctx)
			if err != nil {
				return err
			}
			if exc != nil {
				return fmt.Errorf("select option %q: %s", option, exceptionText(exc))
			}
			return nil
		}),
	)
}

func (p *cdpPage) PressEnter(ctx context.Context, q Query) error {
	if err := p.pace(ctx); err != nil {
		return err
	}
	return p.runActions(ctx, chromedp.Focus(q.Expr, by(q)), chromedp.KeyEvent(kb.Enter))
}

func (p *cdpPage) Text(ctx context.Context, q Query) (string, error) {
	var text string
	if err := p.runActions(ctx, chromedp.Text(q.Expr, &text, by(q))); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (p *cdpPage) OuterHTML(ctx context.Context, q Query) (string, error) {
	var html string
	if err := p.runActions(ctx, chromedp.OuterHTML(q.Expr, &html, by(q))); err != nil {
		return "", err
	}
	return html, nil
}

func (p *cdpPage) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.runActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *cdpPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 keeps the PNG encoding.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := p.runActions(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *cdpPage) Cookies(ctx context.Context) ([]session.Cookie, error) {
	var raw []*network.Cookie
	err := p.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, fromCDPCookie(c))
	}
	return cookies, nil
}

func (p *cdpPage) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, toCDPCookie(c))
	}
	if err := p.runActions(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("failed to install cookies: %w", err)
	}
	return nil
}

// pace applies the action rate limit and a short thinking pause.
func (p *cdpPage) pace(ctx context.Context) error {
	if err := p.pacer.Act(ctx); err != nil {
		return err
	}
	return p.pacer.Pause(ctx, humanoid.Thinking)
}

func fromCDPCookie(c *network.Cookie) session.Cookie {
	out := session.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: c.SameSite.String(),
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		out.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return out
}

func toCDPCookie(c session.Cookie) *network.CookieParam {
	param := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.SameSite != "" {
		param.SameSite = network.CookieSameSite(c.SameSite)
	}
	if !c.Expires.IsZero() {
		exp := cdp.TimeSinceEpoch(c.Expires)
		param.Expires = &exp
	}
	return param
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}
