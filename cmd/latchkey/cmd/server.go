package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/brendan612/latchkey/gateway"
	"github.com/brendan612/latchkey/internal/util"
	"github.com/brendan612/latchkey/storage"
	bboltstorage "github.com/brendan612/latchkey/storage/bbolt"
	"github.com/brendan612/latchkey/storage/memory"
	"github.com/brendan612/latchkey/storage/postgres"
)

var (
	port         int
	dataDir      string
	backend      string
	postgresDSN  string
	tlsCert      string
	tlsKey       string
	defaultRole  string
	legacyTokens []string
	rootSecret   string
)

// rootSecretEnv is the environment variable the token signing secret is
// read from when the --root-secret flag is not set.
const rootSecretEnv = "LATCHKEY_ROOT_SECRET"

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the sync gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		secret := rootSecret
		if secret == "" {
			secret = os.Getenv(rootSecretEnv)
		}
		if secret == "" {
			ephemeral, err := util.RandomBytes(32)
			if err != nil {
				return err
			}
			secret = string(ephemeral)
			logger.Warn("no root secret configured; using an ephemeral one, issued tokens will not survive a restart")
		}

		opts := []gateway.Option{gateway.WithLogger(logger)}
		if defaultRole != "" {
			role, err := gateway.ParseRole(defaultRole)
			if err != nil {
				return err
			}
			opts = append(opts, gateway.WithDefaultRole(role))
		}
		if len(legacyTokens) > 0 {
			tokens, err := parseLegacyTokens(legacyTokens)
			if err != nil {
				return err
			}
			opts = append(opts, gateway.WithLegacyTokens(tokens))
		}

		g, err := gateway.New(store, []byte(secret), opts...)
		if err != nil {
			return err
		}

		stopSweepers := make(chan struct{})
		defer close(stopSweepers)
		g.StartSweepers(stopSweepers)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/", g.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting gateway on port %d (backend: %s)...\n", port, backend)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func openStore() (storage.Store, error) {
	switch backend {
	case "memory":
		return memory.NewStore(), nil
	case "bbolt":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewStoreFromFile(dataDir+"/vaults.db", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open vault storage: %w", err)
		}
		return store, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, errors.New("--postgres-dsn is required with the postgres backend")
		}
		store, err := postgres.NewStore(context.Background(), postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// parseLegacyTokens parses token=subject pairs.
func parseLegacyTokens(pairs []string) (map[string]string, error) {
	tokens := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		token, subject, ok := strings.Cut(pair, "=")
		if !ok || token == "" || subject == "" {
			return nil, fmt.Errorf("invalid legacy token %q, expected token=subject", pair)
		}
		tokens[token] = subject
	}
	return tokens, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&backend, "backend", "bbolt", "Storage backend: memory, bbolt, or postgres")
	serverCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringVar(&defaultRole, "default-role", "", "Role granted to auto-provisioned members of existing orgs")
	serverCmd.Flags().StringSliceVar(&legacyTokens, "legacy-token", nil, "Legacy bearer token as token=subject (repeatable)")
	serverCmd.Flags().StringVar(&rootSecret, "root-secret", "", "Token signing root secret (prefer "+rootSecretEnv+")")
}
