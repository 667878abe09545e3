package main

import (
	"fmt"
	"io"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/store"
	"github.com/qvarn/qvarn/internal/store/sqldb"
	qvarnsync "github.com/qvarn/qvarn/internal/sync"
	"github.com/qvarn/qvarn/internal/ui"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write every stored resource as JSONL to stdout",
	Long: `Write every stored resource as JSONL to stdout.

Resource types come from main.specdir; when it is not set, the types
recorded in the database registry are used instead.`,
	GroupID: "tools",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registered, _ := cmd.Flags().GetBool("registered")
		ctx := cmd.Context()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if registered || len(a.types) == 0 {
			var types []*model.ResourceType
			err := a.db.RunInTransaction(ctx, func(tx *sqldb.Tx) error {
				var err error
				types, err = store.Registered(ctx, tx)
				return err
			})
			if err != nil {
				return err
			}
			if registered {
				printRegistered(cmd.OutOrStdout(), types)
				return nil
			}
			a.types = types
		}

		services, err := a.services()
		if err != nil {
			return err
		}
		sources := make([]qvarnsync.Source, len(services))
		for i, svc := range services {
			sources[i] = svc
		}
		return qvarnsync.ExportJSONL(ctx, sources, cmd.OutOrStdout())
	},
}

func printRegistered(w io.Writer, types []*model.ResourceType) {
	if len(types) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no resource types registered"))
		return
	}
	for _, rt := range types {
		fmt.Fprintf(w, "%s %s %s\n", ui.RenderAccent(rt.Type), rt.Path, ui.RenderMuted(rt.Current().Name))
	}
}

func init() {
	dumpCmd.Flags().Bool("registered", false, "list the registered resource types instead of dumping resources")
}
