package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/captcha"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
)

// Listing identifies the ad a message was sent on. Any of its fields may
// be used to find the conversation later.
type Listing struct {
	URL   string
	ID    string
	Title string
}

// Sent is the result of a delivered message.
type Sent struct {
	Listing Listing
	SentAt  time.Time
}

// MessageSender opens a listing and writes to the seller.
type MessageSender struct {
	page         browser.Page
	resolver     *selectors.Resolver
	nav          *Navigator
	confirmation time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewMessageSender creates a sender. confirmation bounds the wait for the
// post-submit marker.
func NewMessageSender(page browser.Page, resolver *selectors.Resolver, nav *Navigator, confirmation time.Duration, logger *zap.Logger) *MessageSender {
	return &MessageSender{
		page:         page,
		resolver:     resolver,
		nav:          nav,
		confirmation: confirmation,
		logger:       logger.Named("message"),
		now:          time.Now,
	}
}

// Send delivers text to the seller of the listing at listingURL.
//
// Failures are a *StepError matching ErrMessageFailed, or a captcha error.
func (m *MessageSender) Send(ctx context.Context, listingURL, text string) (*Sent, error) {
	listing := Listing{URL: listingURL, ID: ListingID(listingURL)}
	m.logger.Info("Sending message.", zap.String("listing", listingURL), zap.String("listing_id", listing.ID))

	if err := m.nav.Open(ctx, listingURL); err != nil {
		if errors.Is(err, captcha.ErrDetected) {
			return nil, err
		}
		return nil, m.fail(err)
	}

	if title, err := m.listingTitle(ctx); err == nil {
		listing.Title = title
	} else {
		m.logger.Debug("Listing title not found.", zap.Error(err))
	}

	contact, err := m.resolver.Resolve(ctx, selectors.ContactButton)
	if err != nil {
		return nil, m.fail(err)
	}
	if err := m.page.Click(ctx, contact.Query); err != nil {
		return nil, m.fail(fmt.Errorf("failed to open message form: %w", err))
	}
	if err := m.nav.Check(ctx); err != nil {
		return nil, err
	}

	textarea, err := m.resolver.Resolve(ctx, selectors.MessageTextarea)
	if err != nil {
		return nil, m.fail(err)
	}
	if err := m.page.Fill(ctx, textarea.Query, text); err != nil {
		return nil, m.fail(fmt.Errorf("failed to enter message: %w", err))
	}

	send, err := m.resolver.Resolve(ctx, selectors.MessageSend)
	if err != nil {
		return nil, m.fail(err)
	}
	if err := m.page.Click(ctx, send.Query); err != nil {
		return nil, m.fail(fmt.Errorf("failed to submit message: %w", err))
	}
	if err := m.nav.Check(ctx); err != nil {
		return nil, err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, m.confirmation)
	defer cancel()
	if _, err := m.resolver.Resolve(confirmCtx, selectors.MessageSent); err != nil {
		if ctx.Err() != nil {
			return nil, m.fail(ctx.Err())
		}
		if cerr := m.nav.Check(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, m.fail(fmt.Errorf("no confirmation within %s: %w", m.confirmation, err))
	}

	m.logger.Info("Message sent.", zap.String("listing_id", listing.ID), zap.String("title", listing.Title))
	return &Sent{Listing: listing, SentAt: m.now().UTC()}, nil
}

func (m *MessageSender) listingTitle(ctx context.Context) (string, error) {
	h, err := m.resolver.Resolve(ctx, selectors.ListingTitle)
	if err != nil {
		return "", err
	}
	title, err := m.page.Text(ctx, h.Query)
	if err != nil {
		return "", err
	}
	return normalizeSpace(title), nil
}

func (m *MessageSender) fail(err error) error {
	return newStepError(StepSendMessage, ErrMessageFailed, m.resolver.LastAttempt(), err)
}

var listingIDPattern = regexp.MustCompile(`^(\d{5,})(?:-\d+)*$`)

// ListingID extracts the numeric ad ID from a listing URL such as
// /s-anzeige/some-title/2712345678-245-3345 or ?adId=2712345678. It
// returns "" when the URL carries none.
func ListingID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("adId"); id != "" {
		return id
	}
	if m := listingIDPattern.FindStringSubmatch(path.Base(strings.TrimSuffix(u.Path, "/"))); m != nil {
		return m[1]
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
