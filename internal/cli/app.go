package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/calderf/branchline/internal/config"
	"github.com/calderf/branchline/internal/device"
	"github.com/calderf/branchline/internal/graph"
	"github.com/calderf/branchline/internal/ledger"
	"github.com/calderf/branchline/internal/logs"
	"github.com/calderf/branchline/internal/nav"
	"github.com/calderf/branchline/internal/ownership"
	"github.com/calderf/branchline/internal/pace"
	"github.com/calderf/branchline/internal/store"
)

// storeFile is the SQLite database name under the data dir.
const storeFile = "branchline.db"

// app is one fully wired process: every command opens one, uses the pieces
// it needs, and closes it.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	deviceID string
	store    *store.Store
	loader   *graph.VaultLoader
	tracker  *pace.Tracker
	wallet   *ledger.Wallet
	coord    *ownership.Coordinator
	nav      *nav.Navigator

	closeLog func() error
}

// loadConfigOnly resolves configuration without opening anything, for
// commands that only need paths.
func loadConfigOnly(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Vault != "" {
		cfg.Vault = opts.Vault
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	return cfg, nil
}

// openApp loads configuration, opens the per-device store, and wires the
// navigator to the vault and the shared-session coordinator.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := loadConfigOnly(opts)
	if err != nil {
		return nil, err
	}
	if cfg.Vault == "" {
		return nil, fmt.Errorf("no vault configured: set --vault, BRANCHLINE_VAULT, or vault in the config file")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	level := parseLevel(cfg.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log, closeLog, err := logs.New(logs.Options{Level: level, FilePath: cfg.LogFile})
	if err != nil {
		return nil, err
	}

	deviceID, err := device.Identity(cfg.DataDir)
	if err != nil {
		closeLog()
		return nil, err
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, storeFile))
	if err != nil {
		closeLog()
		return nil, err
	}

	loader := graph.NewVaultLoader(cfg.Vault)
	tracker := pace.NewTracker(st, log)
	wallet := ledger.NewWallet(st, log)
	coord := ownership.NewCoordinator(ownership.NewFileStore(cfg.Vault), deviceID, ownership.Options{
		LeaseWindow:   cfg.Ownership.LeaseWindow(),
		WriteDebounce: cfg.Ownership.WriteDebounce(),
		PollInterval:  cfg.Ownership.PollInterval(),
		MissingGrace:  cfg.Ownership.MissingGrace(),
	}, log)

	navigator := nav.New(loader, tracker, st, coord, log)
	navigator.Marker = cfg.StartMarker
	navigator.OnPoints = func(ctx context.Context, points int, graphID, nodeID string) error {
		meta := fmt.Sprintf(`{"graph":%q,"node":%q}`, graphID, nodeID)
		_, err := wallet.Earn(ctx, int64(points), meta)
		return err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		deviceID: deviceID,
		store:    st,
		loader:   loader,
		tracker:  tracker,
		wallet:   wallet,
		coord:    coord,
		nav:      navigator,
		closeLog: closeLog,
	}, nil
}

// close flushes any debounced publish and releases the store and log file.
func (a *app) close() {
	if err := a.coord.Flush(); err != nil {
		a.log.Warn("flush shared session", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", "error", err)
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
