package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/captcha"
	"github.com/xkilldash9x/haggle-cli/internal/config"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
)

// MatchedBy says which listing attribute identified a conversation.
type MatchedBy string

const (
	MatchedByID    MatchedBy = "listing_id"
	MatchedByURL   MatchedBy = "url"
	MatchedByTitle MatchedBy = "title"
)

// Conversation is a located inbox thread. URL is empty for entries without
// a link; those are opened by clicking Query.
type Conversation struct {
	URL       string
	Title     string
	Index     int
	MatchedBy MatchedBy
	Query     browser.Query
}

// entry is one parsed inbox row.
type entry struct {
	href  string
	text  string
	attrs []string
}

var errNoMatch = errors.New("no matching conversation in inbox yet")

// ConversationNavigator finds the thread a message created. New threads
// can take a while to show up, so the inbox is polled.
type ConversationNavigator struct {
	page     browser.Page
	resolver *selectors.Resolver
	nav      *Navigator
	site     config.SiteConfig
	logger   *zap.Logger

	pollWindow     time.Duration
	backoffFactory func() backoff.BackOff
	timer          backoff.Timer
}

// NewConversationNavigator creates a navigator polling the inbox with
// backoff between retry.PollInitial and retry.PollMax for at most
// timeouts.ConversationPoll.
func NewConversationNavigator(page browser.Page, resolver *selectors.Resolver, nav *Navigator, site config.SiteConfig, timeouts config.TimeoutsConfig, retry config.RetryConfig, logger *zap.Logger) *ConversationNavigator {
	c := &ConversationNavigator{
		page:       page,
		resolver:   resolver,
		nav:        nav,
		site:       site,
		logger:     logger.Named("conversation"),
		pollWindow: timeouts.ConversationPoll,
	}
	c.backoffFactory = func() backoff.BackOff {
		return newExponentialBackOff(retry.PollInitial, retry.PollMax, timeouts.ConversationPoll)
	}
	return c
}

// Locate polls the inbox until an entry matches listing.
//
// Failures are a *StepError matching ErrConversationNotFound, or a captcha
// error.
func (c *ConversationNavigator) Locate(ctx context.Context, listing Listing) (*Conversation, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollWindow)
	defer cancel()

	var found *Conversation
	polls := 0
	operation := func() error {
		polls++
		conv, err := c.scan(pollCtx, listing)
		switch {
		case err == nil:
			found = conv
			return nil
		case errors.Is(err, captcha.ErrDetected):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Conversation not listed yet.", zap.Int("poll", polls), zap.Duration("next", wait), zap.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(c.backoffFactory(), pollCtx), notify, c.timer)
	if err != nil {
		if errors.Is(err, captcha.ErrDetected) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %d poll(s) within %s", errNoMatch, polls, c.pollWindow)
		}
		return nil, c.fail(err)
	}

	c.logger.Info("Conversation located.",
		zap.String("url", found.URL),
		zap.Int("index", found.Index),
		zap.String("matched_by", string(found.MatchedBy)))
	return found, nil
}

// scan loads the inbox once and looks for listing among its entries.
func (c *ConversationNavigator) scan(ctx context.Context, listing Listing) (*Conversation, error) {
	if err := c.nav.Open(ctx, c.site.InboxURL); err != nil {
		return nil, err
	}
	list, err := c.resolver.Resolve(ctx, selectors.ConversationList)
	if err != nil {
		return nil, err
	}
	html, err := c.page.OuterHTML(ctx, list.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	entries, entrySel, err := parseEntries(html, c.resolver.Set().Chain(selectors.ConversationEntry))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: inbox is empty", errNoMatch)
	}

	idx, by := matchEntry(entries, listing)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %d entries checked", errNoMatch, len(entries))
	}

	e := entries[idx]
	conv := &Conversation{Title: e.text, Index: idx, MatchedBy: by, Query: entrySel.Query}
	if e.href != "" {
		conv.URL = resolveURL(c.site.BaseURL, e.href)
	} else if idx != 0 {
		// Without a link only the first entry can be addressed.
		return nil, fmt.Errorf("%w: entry %d has no link", errNoMatch, idx)
	}
	if scoped, ok := entrySel.Query.Within(list.Query); ok {
		conv.Query = scoped
	}
	return conv, nil
}

func (c *ConversationNavigator) fail(err error) error {
	return newStepError(StepLocateConversation, ErrConversationNotFound, c.resolver.LastAttempt(), err)
}

// parseEntries splits the inbox markup into entries using the first CSS
// selector of chain that matches anything. Entries keep document order,
// which the site renders newest first.
func parseEntries(html string, chain []selectors.Selector) ([]entry, selectors.Selector, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, selectors.Selector{}, fmt.Errorf("failed to parse inbox: %w", err)
	}

	for _, sel := range chain {
		if sel.Query.Kind != browser.CSS {
			continue
		}
		nodes := doc.Find(sel.Query.Expr)
		if nodes.Length() == 0 {
			continue
		}
		entries := make([]entry, 0, nodes.Length())
		nodes.Each(func(_ int, s *goquery.Selection) {
			entries = append(entries, toEntry(s))
		})
		return entries, sel, nil
	}
	return nil, selectors.Selector{}, nil
}

func toEntry(s *goquery.Selection) entry {
	e := entry{text: normalizeSpace(s.Text())}
	if href, ok := s.Attr("href"); ok {
		e.href = href
	} else if href, ok := s.Find("a[href]").First().Attr("href"); ok {
		e.href = href
	}
	collect := func(n *goquery.Selection) {
		for _, node := range n.Nodes {
			for _, a := range node.Attr {
				if a.Val != "" {
					e.attrs = append(e.attrs, a.Val)
				}
			}
		}
	}
	collect(s)
	collect(s.Find("*"))
	return e
}

// matchEntry returns the first entry matching listing by ID, then by URL,
// then by title, or -1.
func matchEntry(entries []entry, listing Listing) (int, MatchedBy) {
	if listing.ID != "" {
		for i, e := range entries {
			for _, v := range e.attrs {
				if strings.Contains(v, listing.ID) {
					return i, MatchedByID
				}
			}
		}
	}
	if p := urlPath(listing.URL); p != "" && p != "/" {
		for i, e := range entries {
			if e.href != "" && strings.Contains(urlPath(e.href), p) {
				return i, MatchedByURL
			}
		}
	}
	if t := strings.ToLower(listing.Title); t != "" {
		for i, e := range entries {
			if strings.Contains(strings.ToLower(e.text), t) {
				return i, MatchedByTitle
			}
		}
	}
	return -1, ""
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
