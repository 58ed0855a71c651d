package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"broker_gateway/internal/auth"
)

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [API_KEY]",
		Short: "Hash a gateway API key for GATEWAY_API_KEY_HASH",
		Long:  "Hashes API_KEY with bcrypt. Without an argument a random key is generated and printed once.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				generated, err := auth.GenerateAPIKey()
				if err != nil {
					return err
				}
				key = generated
				fmt.Fprintf(out, "API key: %s\n", key)
			}

			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "GATEWAY_API_KEY_HASH=%s\n", hash)
			return nil
		},
	}
}
