package main

import (
	"context"
	"fmt"

	"github.com/qvarn/qvarn/internal/store"
	"github.com/spf13/cobra"
)

var prepareCmd = &cobra.Command{
	Use:     "prepare",
	Short:   "Create or migrate the storage of every resource type",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.cfg.Database.ReadOnly {
			return fmt.Errorf("cannot prepare storage on a read-only database")
		}
		if len(a.types) == 0 {
			return fmt.Errorf("no resource types loaded; set main.specdir")
		}
		return prepareAll(cmd.Context(), a)
	},
}

func prepareAll(ctx context.Context, a *app) error {
	for _, rt := range a.types {
		if err := store.PrepareStorage(ctx, a.db, rt); err != nil {
			return fmt.Errorf("prepare %s: %w", rt.Type, err)
		}
	}
	return nil
}
