// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault server status",
		Long:  "Check the running server's status endpoint and display the active operation count.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:18790", "server address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	client := newVaultClient(addr)
	var body struct {
		Status           string     `json:"status"`
		Backend          string     `json:"backend"`
		ActiveOperations int        `json:"active_operations"`
		OldestActiveAt   *time.Time `json:"oldest_active_at"`
	}
	if err := client.getJSON("/api/v1/status", &body); err != nil {
		if errors.Is(err, ErrServerNotRunning) {
			_, _ = fmt.Fprintf(out, "Vault at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Vault at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Vault at %s: %s (backend: %s)\n", addr, body.Status, body.Backend)
	_, _ = fmt.Fprintf(out, "Active operations: %d\n", body.ActiveOperations)
	if body.OldestActiveAt != nil {
		_, _ = fmt.Fprintf(out, "Oldest active since: %s\n", body.OldestActiveAt.Format(time.RFC3339))
	}
	return nil
}
