// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package main

import (
	"log/slog"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/vaultml/vault/internal/config"
	"github.com/vaultml/vault/internal/secrets"
	"github.com/vaultml/vault/internal/server"
	"github.com/vaultml/vault/internal/store"
	_ "github.com/vaultml/vault/internal/store/memstore" // register memory backend
	_ "github.com/vaultml/vault/internal/store/sqlite"   // register sqlite backend
	"github.com/vaultml/vault/internal/vault"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only query API",
		Long:  "Open the vault and expose item content, lineage, and retrieval over HTTP.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)
	config.WarnInsecurePermissions(path)

	cfg, err := config.LoadWithSecrets(path, secrets.NewKeyringStore())
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	v, err := vault.Open(ctx, vault.Options{
		UserID: cfg.Identity.UserID,
		Store: store.Config{
			Backend:  cfg.Storage.Backend,
			Path:     cfg.Storage.Path,
			Database: cfg.Storage.Database,
		},
		DescriptionDim:         cfg.Vectors.DescriptionDim,
		LogFile:                cfg.Ledger.LogFile,
		WaitTime:               cfg.Ledger.WaitTime,
		Timeout:                cfg.Ledger.Timeout,
		VectorRebuildThreshold: cfg.Vectors.RebuildThreshold,
		SkipSession:            true,
	})
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeCLISetupFailure, "opening vault")
	}
	defer func() { _ = v.Close() }()

	if cfg.Recovery.OnStart {
		report, err := v.VaultCleanup(ctx, cfg.Recovery.Interval)
		if err != nil {
			slog.Warn("startup recovery pass failed", "error", err)
		} else if report.Examined > 0 {
			slog.Info("startup recovery pass",
				"examined", report.Examined,
				"recovered", len(report.Recovered),
				"failed", len(report.Failed))
		}
	}

	srv, err := server.New(server.Config{
		ListenAddr: cfg.Server.Listen,
		Backend:    cfg.Storage.Backend,
	}, v)
	if err != nil {
		return err
	}

	slog.Info("serving vault query API", "listen", cfg.Server.Listen, "backend", cfg.Storage.Backend)
	return srv.Start(ctx)
}
