package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/haggle-cli/internal/observability"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or remove the stored login session",
	}
	cmd.PersistentFlags().String("session-file", "", "path of the stored session (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Summarize the stored session without revealing cookie values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionStore(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			sess, err := store.Load()
			switch {
			case errors.Is(err, session.ErrNoSession):
				fmt.Fprintf(out, "No usable session stored at %s\n", store.Path())
				return nil
			case errors.Is(err, session.ErrCorrupt):
				fmt.Fprintf(out, "Session file %s is unreadable and will be replaced on the next login\n", store.Path())
				return nil
			case err != nil:
				return err
			}

			fmt.Fprintf(out, "Session file: %s\n", store.Path())
			fmt.Fprintf(out, "Captured:     %s\n", sess.CapturedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Cookies:      %d live\n", len(sess.Cookies))
			for _, c := range sess.Cookies {
				expiry := "session"
				if !c.Expires.IsZero() {
					expiry = c.Expires.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "  %s (%s, expires %s)\n", c.Name, c.Domain, expiry)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the stored session so the next run logs in again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionStore(cmd)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", store.Path())
			return nil
		},
	})
	return cmd
}

func sessionStore(cmd *cobra.Command) (*session.Store, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	return session.NewStore(cfg.Session.Path, observability.GetLogger()), nil
}
