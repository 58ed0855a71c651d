// Package commands implements the lstctl command line, an operator tool for
// checking key material and running live session token handshakes by hand.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"broker_gateway/internal/broker"
	"broker_gateway/internal/broker/ibkr"
	"broker_gateway/internal/broker/ibkr/oauth"
	"broker_gateway/internal/config"
	"broker_gateway/internal/database"
	"broker_gateway/internal/keystore"
	"broker_gateway/internal/repository"
)

var (
	configFile string
	backend    string
	cfg        *config.Config
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lstctl",
		Short:        "Inspect key material and live session tokens for the broker gateway",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				os.Setenv("CONFIG_FILE", configFile)
			}
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if backend != "" {
				loaded.Keys.Backend = backend
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file (default $CONFIG_FILE)")
	root.PersistentFlags().StringVar(&backend, "key-backend", "", "key backend override: file, env or keyring")

	root.AddCommand(checkKeysCmd(), tokenCmd(), signCmd(), hashKeyCmd(), importKeysCmd())
	return root
}

// session is a token manager bound to a broker client, plus whatever must be
// closed afterwards.
type session struct {
	client  *ibkr.Client
	manager *oauth.Manager
	db      *database.DB
}

func (s *session) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// openSession loads keys and builds a manager. With useCache the SQLite token
// cache shared with the server is used.
func openSession(useCache bool) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keys, err := loadKeys()
	if err != nil {
		return nil, err
	}

	s := &session{client: ibkr.NewClient(cfg.IBKR.BaseURL, ibkr.WithRateLimit(cfg.IBKR.RequestsPerSecond, cfg.IBKR.RequestBurst))}
	var opts []oauth.Option
	if useCache {
		s.db, err = database.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening token cache: %w", err)
		}
		if err := s.db.RunMigrations(); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrating token cache: %w", err)
		}
		enc, err := broker.NewEncryptor(cfg.EncryptionSecret)
		if err != nil {
			s.Close()
			return nil, err
		}
		creds := cfg.Credentials()
		opts = append(opts,
			oauth.WithStore(repository.NewTokenRepository(s.db, enc)),
			oauth.WithObserver(repository.NewHandshakeRecorder(repository.NewHandshakeHistoryRepository(s.db), creds.ConsumerKey)),
		)
	}

	s.manager, err = oauth.NewManager(keys, cfg.Credentials(), s.client, cfg.ManagerConfig(), opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.client.SetAuthorizer(s.manager)
	return s, nil
}

func loadKeys() (*oauth.KeyMaterial, error) {
	src, err := cfg.KeySource()
	if err != nil {
		return nil, err
	}
	return keystore.LoadKeyMaterial(src)
}
