package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/captcha"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
)

// Offered is the result of an accepted offer.
type Offered struct {
	Offer       OfferSpec
	SubmittedAt time.Time
	// EnterFallback is set when the form was submitted with the Enter key
	// because no submit control resolved.
	EnterFallback bool
}

// OfferSubmitter fills and sends the offer form of a conversation.
type OfferSubmitter struct {
	page         browser.Page
	resolver     *selectors.Resolver
	nav          *Navigator
	confirmation time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewOfferSubmitter creates a submitter. confirmation bounds the wait for
// the success marker.
func NewOfferSubmitter(page browser.Page, resolver *selectors.Resolver, nav *Navigator, confirmation time.Duration, logger *zap.Logger) *OfferSubmitter {
	return &OfferSubmitter{
		page:         page,
		resolver:     resolver,
		nav:          nav,
		confirmation: confirmation,
		logger:       logger.Named("offer"),
		now:          time.Now,
	}
}

// Submit sends offer in conv. An invalid offer is rejected with a
// *ConfigError before the page is touched.
//
// Other failures are a *StepError matching ErrOfferFailed, or a captcha
// error.
func (o *OfferSubmitter) Submit(ctx context.Context, conv *Conversation, offer OfferSpec) (*Offered, error) {
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	o.logger.Info("Making offer.",
		zap.Float64("price", offer.Price),
		zap.String("delivery", string(offer.Delivery)))

	if err := o.open(ctx, conv); err != nil {
		return nil, err
	}

	button, err := o.resolver.Resolve(ctx, selectors.OfferButton)
	if err != nil {
		return nil, o.fail(err)
	}
	if err := o.page.Click(ctx, button.Query); err != nil {
		return nil, o.fail(fmt.Errorf("failed to open offer form: %w", err))
	}
	if err := o.nav.Check(ctx); err != nil {
		return nil, err
	}

	var scope []selectors.ResolveOption
	if form, err := o.resolver.Resolve(ctx, selectors.OfferForm); err == nil {
		scope = append(scope, selectors.Within(form))
	} else if ctx.Err() != nil {
		return nil, o.fail(ctx.Err())
	}

	price, err := o.resolver.Resolve(ctx, selectors.OfferPrice, scope...)
	if err != nil {
		return nil, o.fail(err)
	}
	if err := o.page.Fill(ctx, price.Query, formatAmount(offer.Price)); err != nil {
		return nil, o.fail(fmt.Errorf("failed to enter price: %w", err))
	}

	if err := o.selectDelivery(ctx, offer.Delivery, scope); err != nil {
		if offer.Delivery.RequiresShipping() {
			return nil, o.fail(err)
		}
		// The site preselects pickup.
		o.logger.Warn("Could not set delivery method, keeping the preselected one.", zap.Error(err))
	}

	if offer.Delivery.RequiresShipping() {
		shipping, err := o.resolver.Resolve(ctx, selectors.OfferShipping, scope...)
		if err != nil {
			return nil, o.fail(err)
		}
		if err := o.page.Fill(ctx, shipping.Query, formatAmount(*offer.ShippingCost)); err != nil {
			return nil, o.fail(fmt.Errorf("failed to enter shipping cost: %w", err))
		}
	}
	if offer.Note != "" {
		o.fillOptional(ctx, selectors.OfferNote, offer.Note, scope)
	}

	result := &Offered{Offer: offer}
	submit, err := o.resolver.Resolve(ctx, selectors.OfferSubmit, scope...)
	switch {
	case err == nil:
		if err := o.page.Click(ctx, submit.Query); err != nil {
			return nil, o.fail(fmt.Errorf("failed to submit offer: %w", err))
		}
	case ctx.Err() != nil:
		return nil, o.fail(ctx.Err())
	default:
		o.logger.Info("Offer submit control not found, pressing Enter in the price field.")
		if err := o.page.PressEnter(ctx, price.Query); err != nil {
			return nil, o.fail(fmt.Errorf("failed to submit offer with Enter: %w", err))
		}
		result.EnterFallback = true
	}
	if err := o.nav.Check(ctx); err != nil {
		return nil, err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, o.confirmation)
	defer cancel()
	if _, err := o.resolver.Resolve(confirmCtx, selectors.OfferSuccess); err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(ctx.Err())
		}
		if cerr := o.nav.Check(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, o.fail(fmt.Errorf("no confirmation within %s: %w", o.confirmation, err))
	}

	result.SubmittedAt = o.now().UTC()
	o.logger.Info("Offer submitted.", zap.Bool("enter_fallback", result.EnterFallback))
	return result, nil
}

// open shows the conversation, by URL when it has one.
func (o *OfferSubmitter) open(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return o.fail(errors.New("no conversation to open"))
	}
	if conv.URL != "" {
		if err := o.nav.Open(ctx, conv.URL); err != nil {
			if errors.Is(err, captcha.ErrDetected) {
				return err
			}
			return o.fail(err)
		}
		return nil
	}
	if err := o.page.Click(ctx, conv.Query); err != nil {
		return o.fail(fmt.Errorf("failed to open conversation: %w", err))
	}
	return o.nav.Check(ctx)
}

// selectDelivery picks the delivery option, falling back to clicking its
// label.
func (o *OfferSubmitter) selectDelivery(ctx context.Context, d Delivery, scope []selectors.ResolveOption) error {
	label := d.Label()
	sel, err := o.resolver.Resolve(ctx, selectors.OfferDelivery, scope...)
	if err == nil {
		for _, option := range []string{label, string(d)} {
			if err = o.page.SelectOption(ctx, sel.Query, option); err == nil {
				o.logger.Debug("Delivery selected.", zap.String("option", option))
				return nil
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	clickCtx, cancel := context.WithTimeout(ctx, o.resolver.AttemptTimeout())
	defer cancel()
	if cerr := o.page.Click(clickCtx, browser.TextQuery(label)); cerr != nil {
		return fmt.Errorf("delivery %q could not be selected: %w", label, errors.Join(err, cerr))
	}
	o.logger.Debug("Delivery selected by label.", zap.String("label", label))
	return nil
}

// fillOptional enters value into element if the form shows it. Only the note
// is optional.
func (o *OfferSubmitter) fillOptional(ctx context.Context, element, value string, scope []selectors.ResolveOption) {
	h, err := o.resolver.Resolve(ctx, element, scope...)
	if err == nil {
		err = o.page.Fill(ctx, h.Query, value)
	}
	if err != nil {
		o.logger.Warn("Could not fill optional offer field.", zap.String("element", element), zap.Error(err))
	}
}

func (o *OfferSubmitter) fail(err error) error {
	return newStepError(StepMakeOffer, ErrOfferFailed, o.resolver.LastAttempt(), err)
}
