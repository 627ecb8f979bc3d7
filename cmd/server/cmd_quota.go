package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "查看云端配额上限与当前用量",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadSettings()
			if err != nil {
				return err
			}
			guard := newQuotaGuard(cfg, log)
			ctx := cmd.Context()

			ex, err := guard.CheckExhaustion(ctx, 0)
			if err != nil {
				return err
			}
			snap, err := guard.Snapshot(ctx)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{
				"limits":     snap.Limits,
				"state":      snap.State,
				"exhaustion": ex,
				"exhausted":  ex.Exhausted(),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
