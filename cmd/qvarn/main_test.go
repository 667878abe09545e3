package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/qvarn/qvarn/internal/ui"
)

const personSpec = `
type: person
path: /persons
versions:
  - version: v1
    prototype:
      name: ""
      aliases: [""]
    subpaths:
      private:
        prototype:
          secret: ""
`

// writeSpecDir writes the person type into a fresh specification
// directory.
func writeSpecDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "person.yaml"), []byte(personSpec), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// runCommand executes the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ui.ForceNoColor()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}
