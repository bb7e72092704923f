package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modbroker/gwbroker/gateway"
)

// validateCmd parses a declaration and reports its shape without
// instantiating any module, for CI and pre-deploy checks.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse a declaration and report module/link counts without applying it",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringP("file", "f", "", "Declaration JSON file (required)")
	_ = validateCmd.MarkFlagRequired("file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	raw, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read declaration %q: %w", filename, err)
	}
	decl, err := gateway.ParseDeclaration(raw)
	if err != nil {
		return fmt.Errorf("parse declaration: %w", err)
	}

	fmt.Printf("%s: ok — %d loaders, %d modules, %d links\n", filename, len(decl.Loaders), len(decl.Modules), len(decl.Links))
	for _, l := range decl.Links {
		mode := "WIRE"
		if l.IsDirect() {
			mode = "DIRECT"
		}
		fmt.Printf("  %s -> %s [%s]\n", l.Source, l.Sink, mode)
	}
	return nil
}
