package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"broker_gateway/internal/keystore"
)

func importKeysCmd() *cobra.Command {
	paths := map[string]*string{}
	cmd := &cobra.Command{
		Use:   "import-keys",
		Short: "Copy PEM files into the system keyring",
		Long: "Reads the three PEM files, checks that they parse, and stores them in the keyring " +
			"used by KEY_BACKEND=keyring.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := keystore.BytesSource{}
			for _, name := range keystore.Names {
				data, err := os.ReadFile(*paths[name])
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				src[name] = data
			}
			if _, err := keystore.LoadKeyMaterial(src); err != nil {
				return err
			}

			ring, err := keystore.OpenKeyring(cfg.KeyringConfig())
			if err != nil {
				return err
			}
			for _, name := range keystore.Names {
				if err := ring.Store(name, src[name]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries into keyring service %q\n", len(keystore.Names), cfg.Keys.KeyringService)
			return nil
		},
	}

	flags := []struct{ name, flag, def, usage string }{
		{keystore.NameEncryptionKey, "encryption-key", "", "private encryption key PEM"},
		{keystore.NameSignatureKey, "signature-key", "", "private signature key PEM"},
		{keystore.NameDHParams, "dh-params", "", "Diffie-Hellman parameters PEM"},
	}
	for _, f := range flags {
		paths[f.name] = cmd.Flags().String(f.flag, f.def, f.usage)
		cmd.MarkFlagRequired(f.flag)
	}
	return cmd
}
