// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultml/vault/internal/config"
	"github.com/vaultml/vault/internal/secrets"
	"github.com/vaultml/vault/internal/store"
	"github.com/vaultml/vault/internal/vault"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Roll back or finish abandoned operations",
		Long:  "Scan the operation ledger for entries older than the interval and compensate or resume each one.",
		RunE:  runRecover,
	}

	cmd.Flags().Duration("interval", 0, "minimum age before an operation counts as abandoned (default from config)")

	return cmd
}

func runRecover(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithSecrets(configPath(cmd), secrets.NewKeyringStore())
	if err != nil {
		return err
	}

	interval := cfg.Recovery.Interval
	if flagInterval, _ := cmd.Flags().GetDuration("interval"); flagInterval > 0 {
		interval = flagInterval
	}

	ctx := cmd.Context()
	v, err := vault.Open(ctx, vault.Options{
		UserID: cfg.Identity.UserID,
		Store: store.Config{
			Backend:  cfg.Storage.Backend,
			Path:     cfg.Storage.Path,
			Database: cfg.Storage.Database,
		},
		LogFile:     cfg.Ledger.LogFile,
		WaitTime:    cfg.Ledger.WaitTime,
		Timeout:     cfg.Ledger.Timeout,
		SkipSession: true,
	})
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeCLISetupFailure, "opening vault")
	}
	defer func() { _ = v.Close() }()

	report, err := v.VaultCleanup(ctx, interval)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Examined %d abandoned operation(s), recovered %d\n", report.Examined, len(report.Recovered))
	for _, ts := range report.Failed {
		_, _ = fmt.Fprintf(out, "  recovery failed for operation %d\n", ts)
	}
	if len(report.Failed) > 0 {
		return vaulterr.Errorf(vaulterr.CodeEngineRecoveryFailure, "%d operation(s) could not be recovered", len(report.Failed))
	}

	return nil
}
