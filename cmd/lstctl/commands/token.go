package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		useCache bool
		refresh  bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain a live session token and print its lifetime",
		Long: "Runs the live session token handshake (or restores a cached token with --cache) " +
			"and prints when it was issued and when it expires. The token itself is never printed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(useCache)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if refresh {
				_, err = s.manager.Refresh(ctx)
			} else {
				_, err = s.manager.Token(ctx)
			}
			if err != nil {
				return err
			}

			st := s.manager.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State:      %s\n", st.State)
			fmt.Fprintf(out, "Issued at:  %s\n", st.IssuedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Expires at: %s (in %s)\n", st.ExpiresAt.Format(time.RFC3339), time.Until(st.ExpiresAt).Round(time.Second))
			return nil
		},
	}
	cmd.Flags().BoolVar(&useCache, "cache", false, "use and update the gateway's token cache")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a new handshake even if a cached token is valid")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline including retries")
	return cmd
}
