package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/humanoid"
	"github.com/xkilldash9x/haggle-cli/internal/observability"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
	"github.com/xkilldash9x/haggle-cli/internal/session"
	"github.com/xkilldash9x/haggle-cli/internal/workflow"
)

// runOptions holds the flags of the run command that are not configuration.
type runOptions struct {
	url          string
	message      string
	price        float64
	delivery     string
	shippingCost float64
	note         string
	noCookies    bool
	timeout      int
	debug        bool
}

// newRunCmd creates the `run` command: the whole login, message, offer flow.
func newRunCmd(v *viper.Viper) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send a message on a listing and make an offer in the resulting conversation",
		Example: `  haggle run --url https://www.kleinanzeigen.de/s-anzeige/fahrrad/2712345678-217-1234 \
    --message "Ist noch verfügbar?" --price 100 --delivery pickup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if opts.debug {
				observability.SetLevel(zap.DebugLevel)
			}
			logger := observability.GetLogger()

			req, err := opts.request(cmd, v)
			if err != nil {
				return usageError(err)
			}
			req.AllowCookies = cfg.Session.AllowCookies && !opts.noCookies

			set, err := selectors.Load(cfg.Selectors.File)
			if err != nil {
				return usageError(err)
			}

			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.timeout)*time.Second)
				defer cancel()
			}

			pacer := humanoid.New(cfg.Browser.Humanoid, logger)
			manager := browser.NewManager(logger, cfg.Browser, pacer)
			store := session.NewStore(cfg.Session.Path, logger)
			engine := workflow.NewEngine(cfg, manager, set, store, logger)

			out := engine.Run(ctx, req)
			fmt.Fprintln(cmd.OutOrStdout(), out.Summary())
			if code := out.ExitCode(); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "listing URL (required)")
	f.String("email", "", "account email (or HAGGLE_EMAIL)")
	f.String("password", "", "account password (or HAGGLE_PASSWORD)")
	f.StringVar(&opts.message, "message", "", "message sent to the seller (required)")
	f.Float64Var(&opts.price, "price", 0, "offered price in EUR (required)")
	f.StringVar(&opts.delivery, "delivery", string(workflow.DeliveryPickup), "delivery method: pickup, shipping or both")
	f.Float64Var(&opts.shippingCost, "shipping-cost", 0, "shipping cost in EUR, required for shipping and both")
	f.StringVar(&opts.note, "note", "", "optional note attached to the offer")
	f.Bool("headless", true, "run the browser without a window")
	f.BoolVar(&opts.noCookies, "no-cookies", false, "ignore and do not update the stored session")
	f.Bool("screenshot-on-success", false, "also capture a screenshot when the run succeeds")
	f.IntVar(&opts.timeout, "timeout", 300, "overall run timeout in seconds, 0 for none")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	return cmd
}

// request assembles the workflow request. Missing or inconsistent values are
// rejected by the engine before the browser starts; only flag syntax is
// checked here.
func (o *runOptions) request(cmd *cobra.Command, v *viper.Viper) (workflow.Request, error) {
	delivery, err := workflow.ParseDelivery(o.delivery)
	if err != nil {
		return workflow.Request{}, err
	}

	offer := workflow.OfferSpec{Price: o.price, Delivery: delivery, Note: o.note}
	if cmd.Flags().Changed("shipping-cost") {
		cost := o.shippingCost
		offer.ShippingCost = &cost
	}

	return workflow.Request{
		ListingURL: o.url,
		Credentials: workflow.Credentials{
			Email:    v.GetString("email"),
			Password: v.GetString("password"),
		},
		Message: o.message,
		Offer:   offer,
	}, nil
}
