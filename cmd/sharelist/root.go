// ABOUTME: Root Cobra command and global flags
// ABOUTME: Loads config and opens local stores; commands start the sync engine on demand

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/harper/sharelist/internal/config"
	"github.com/harper/sharelist/internal/ledger"
	"github.com/harper/sharelist/internal/merge"
	"github.com/harper/sharelist/internal/remote"
	"github.com/harper/sharelist/internal/snapcache"
	"github.com/harper/sharelist/internal/uploader"
)

var (
	dataDirFlag string
	sortFlag    string
	verbose     bool

	cfg    *config.Config
	ldg    *ledger.Ledger
	cache  *snapcache.Cache
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sharelist",
	Short: "Shared task lists that survive bad networks",
	Long: `sharelist keeps your task lists, and the lists friends share with you,
in sync across devices. Edits apply instantly and reconcile with the
server in the background; images upload with automatic retries and
survive restarts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dataDirFlag != "" {
			cfg.DataDir = dataDirFlag
		}
		if sortFlag != "" {
			cfg.Ordering = sortFlag
		}

		logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
		if verbose {
			logger.SetLevel(log.DebugLevel)
		} else {
			logger.SetLevel(log.WarnLevel)
		}

		ldg, err = ledger.Open(cfg.LedgerPath(), cfg.AttachmentsDir(), ledger.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to open attachment ledger: %w", err)
		}
		cache, err = snapcache.Open(cfg.CachePath(), snapcache.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to open snapshot cache: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cache != nil {
			if err := cache.Close(); err != nil {
				return fmt.Errorf("failed to close snapshot cache: %w", err)
			}
		}
		if ldg != nil {
			if err := ldg.Close(); err != nil {
				return fmt.Errorf("failed to close attachment ledger: %w", err)
			}
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default: ~/.local/share/sharelist)")
	rootCmd.PersistentFlags().StringVar(&sortFlag, "sort", "", "list ordering: manual, due, created, priority, title")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// session bundles a running engine and its collaborators.
type session struct {
	engine  *merge.Engine
	uploads *uploader.Uploader
	cancel  context.CancelFunc
}

func (s *session) close() {
	s.engine.Stop()
	s.cancel()
}

// startSession connects to the backend, starts the merge engine, and
// waits for both live feeds to deliver their initial state.
func startSession(parent context.Context) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)

	client := remote.NewClient(cfg.ServerURL, cfg.Token, remote.WithLogger(logger))
	up := uploader.New(ldg, client.Blobs(), cfg.UserID,
		uploader.WithRetryPolicy(cfg.GetMaxRetries(), cfg.GetRetryDelay()),
		uploader.WithLogger(logger))

	eng := merge.New(merge.Config{
		UserID:    cfg.UserID,
		Handle:    cfg.Handle,
		Docs:      client,
		Blobs:     client.Blobs(),
		Ledger:    ldg,
		Uploads:   up,
		Cache:     cache,
		Ordering:  merge.ParseOrder(cfg.GetOrdering()),
		Staleness: cfg.GetStalenessWindow(),
		Logger:    logger,
	})
	up.SetOnSynced(eng.HandleAttachmentSynced)

	if err := eng.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 15*time.Second)
	defer waitCancel()
	if err := eng.WaitReady(waitCtx); err != nil {
		eng.Stop()
		cancel()
		return nil, fmt.Errorf("could not reach %s: %w", cfg.ServerURL, err)
	}

	if removed, err := ldg.SweepOrphans(); err != nil {
		logger.Warn("orphan sweep failed", "err", err)
	} else if len(removed) > 0 {
		logger.Debug("swept orphaned attachment files", "count", len(removed))
	}

	return &session{engine: eng, uploads: up, cancel: cancel}, nil
}
