package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modbroker/gwbroker/gateway"
	"github.com/modbroker/gwbroker/log"
)

// applyCmd demonstrates apply_update (spec.md §4.5 apply_update) without
// a real daemon-to-CLI control socket: it creates an empty Gateway,
// attaches a Reconciler at the given manifest path, and applies the
// declaration to it — the Reconciler fetches any module artifacts whose
// version changed (spec.md §4.6) before add_module runs, and persists
// the resulting deployed manifest once the update succeeds. A production
// deployment would instead send this declaration over a control
// connection to an already-running `gwbroker run` process; that
// transport is out of scope for this core (spec.md §1).
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a declaration, fetching changed module artifacts and updating the deployed manifest",
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Declaration JSON file to apply (required)")
	applyCmd.Flags().String("manifest", "gwbroker-manifest.json", "Path to the persisted deployed manifest")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	manifestPath, _ := cmd.Flags().GetString("manifest")

	raw, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read declaration %q: %w", filename, err)
	}
	decl, err := gateway.ParseDeclaration(raw)
	if err != nil {
		return fmt.Errorf("parse declaration: %w", err)
	}

	reg := defaultLoaderRegistry()
	gw, err := gateway.CreateFromDeclaration(reg, gateway.Declaration{})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	gw.UseReconciler(gateway.NewReconciler(manifestPath))

	if err := gw.ApplyUpdate(decl); err != nil {
		_ = gw.Destroy()
		return fmt.Errorf("apply update: %w", err)
	}

	if err := gw.Destroy(); err != nil {
		return fmt.Errorf("destroy gateway: %w", err)
	}

	log.Logger.Info().Str("manifest", manifestPath).Msg("update applied")
	return nil
}
