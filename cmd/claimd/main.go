// Command claimd serves claim rounds over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/libclaim-go/api"
	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/config"
	"github.com/bitfsorg/libclaim-go/escrow"
	"github.com/bitfsorg/libclaim-go/ledger"
	"github.com/bitfsorg/libclaim-go/logging"
	"github.com/bitfsorg/libclaim-go/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	dataDir := flag.String("datadir", config.DefaultDataDir(), "data directory")
	configPath := flag.String("config", "", "config file (default <datadir>/config.toml)")
	flag.Parse()

	if err := run(*dataDir, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "claimd: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir, configPath string) error {
	if configPath == "" {
		configPath = config.ConfigPath(dataDir)
	}
	cfg, created, err := loadOrInitConfig(configPath, dataDir)
	if err != nil {
		return err
	}

	var out io.Writer
	if cfg.LogFile != "" {
		f, err := logging.OpenFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	log, err := logging.New("claimd", cfg.LogLevel, out)
	if err != nil {
		return err
	}
	if created {
		log.Info().Str("path", configPath).Msg("wrote new config with generated authority secret")
	}
	log.Info().Str("path", configPath).Str("program_id", cfg.ProgramID).Bool("strict_window", cfg.StrictWindow).
		Msg("loaded config")

	secret, err := cfg.Secret()
	if err != nil {
		return err
	}
	auth, err := authority.New(cfg.ProgramID, secret)
	if err != nil {
		return err
	}

	st, l, err := openBackends(cfg.DataDir, auth)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := escrow.New(st, l, auth,
		escrow.WithLogger(log.With().Str("component", "escrow").Logger()),
		escrow.WithMetrics(escrow.NewMetrics(reg)),
		escrow.WithStrictWindow(cfg.StrictWindow),
	)
	h := api.NewHandler(svc, cfg.ProgramID, l, log.With().Str("component", "api").Logger())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h, cfg.AdminToken, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.AdminToken == "" {
		log.Warn().Msg("admin_token is empty; administrator routes are unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, server, log)
}

// openBackends opens claim.db in dataDir and returns the round store and the
// escrow ledger sharing it. Closing the store closes the ledger.
func openBackends(dataDir string, auth *authority.Authority) (*store.BoltStore, *ledger.BoltLedger, error) {
	st, err := store.OpenBoltStore(filepath.Join(dataDir, "claim.db"))
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.NewBoltLedger(st.DB(), auth)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, l, nil
}

// serve runs server until ctx is canceled, then shuts it down gracefully.
func serve(ctx context.Context, server *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("claimd listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadOrInitConfig loads the config at path, writing a fresh one with a
// generated authority secret when none exists. Environment overrides are
// applied after loading and the result is validated.
func loadOrInitConfig(path, dataDir string) (cfg config.Config, created bool, err error) {
	cfg, err = config.LoadConfig(path)
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		cfg = config.DefaultConfig()
		cfg.DataDir = dataDir
		if cfg.AuthoritySecret, err = config.GenerateSecret(); err != nil {
			return cfg, false, err
		}
		if err = config.SaveConfig(path, cfg); err != nil {
			return cfg, false, err
		}
		created = true
	case err != nil:
		return cfg, false, err
	}

	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, created, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, created, err
	}
	return cfg, created, nil
}
