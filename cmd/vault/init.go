// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vaultml/vault/internal/config"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Create a commented default configuration at ~/.config/vault/vault.yaml (or the --config path).",
		RunE:  runInit,
	}

	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	force, _ := cmd.Flags().GetBool("force")

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		_, _ = fmt.Fprintf(out, "Config already exists at %s (use --force to overwrite)\n", path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return vaulterr.Errorf(vaulterr.CodeCLISetupFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(path, config.DefaultConfigYAML, 0o600); err != nil {
		return vaulterr.Errorf(vaulterr.CodeCLISetupFailure, "writing config: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Wrote default config to %s\n", path)
	return nil
}
