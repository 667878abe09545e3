package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/qvarn/qvarn/internal/config"
	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/schema"
	"github.com/qvarn/qvarn/internal/typespec"
	"github.com/qvarn/qvarn/internal/ui"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [specdir]",
	Short: "Validate resource type specifications and show their tables",
	Long: `Validate resource type specifications and show their tables.

The directory defaults to main.specdir of the configuration. No database
connection is made.`,
	GroupID: "tools",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else if configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dir = cfg.Main.SpecDir
		}
		if dir == "" {
			return fmt.Errorf("no specification directory given")
		}
		types, err := typespec.LoadDir(dir)
		if err != nil {
			return err
		}
		return printTypes(cmd.OutOrStdout(), types)
	},
}

// printTypes lists every type with the tables its current version derives.
func printTypes(w io.Writer, types []*model.ResourceType) error {
	for i, rt := range types {
		if i > 0 {
			fmt.Fprintln(w)
		}
		v := rt.Current()
		fmt.Fprintf(w, "%s %s %s\n", ui.RenderAccent(rt.Type), rt.Path, ui.RenderMuted(fmt.Sprintf("(%s, %d versions)", v.Name, len(rt.Versions))))
		tables, err := schema.DeriveVersion(rt.Type, v)
		if err != nil {
			return fmt.Errorf("%s: %w", rt.Type, err)
		}
		for _, t := range tables {
			cols := make([]string, len(t.Columns))
			for j, c := range t.Columns {
				cols[j] = c.Name + " " + ui.RenderMuted(c.Kind.String())
			}
			fmt.Fprintf(w, "  %s\n    %s\n", ui.RenderCommand(t.Name), strings.Join(cols, ", "))
		}
	}
	return nil
}
