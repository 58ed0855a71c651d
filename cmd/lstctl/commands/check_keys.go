package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func checkKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-keys",
		Short: "Load and validate the encryption key, signature key and DH parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := loadKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key backend:     %s\n", cfg.Keys.Backend)
			fmt.Fprintf(out, "Encryption key:  RSA %d bits\n", keys.EncryptionKey.N.BitLen())
			fmt.Fprintf(out, "Signature key:   RSA %d bits\n", keys.SignatureKey.N.BitLen())
			fmt.Fprintf(out, "DH prime:        %d bits, generator %s\n", keys.DH.P.BitLen(), keys.DH.G.String())

			creds := cfg.Credentials()
			if err := creds.Validate(); err != nil {
				fmt.Fprintf(out, "Credentials:     incomplete (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Credentials:     %s (realm %s)\n", creds.ConsumerKey, creds.RealmName())
			return nil
		},
	}
}
