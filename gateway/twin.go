package gateway

import (
	"context"
	"fmt"
)

// TwinClient is the gateway's cloud device-twin external collaborator
// (spec.md §1, §4.5 "begin consuming cloud-twin desired-property
// updates"): whatever reports that the cloud wants a new configuration
// deployed and hands back that declaration's raw JSON. Modeled as an
// interface with no concrete implementation here deliberately — no
// cloud device-twin SDK appears anywhere in the retrieval pack, and
// inventing one would mean guessing at wire-framing details the original
// Azure IoT Hub client handles internally. See SPEC_FULL.md §5.
type TwinClient interface {
	// DesiredDeclaration blocks until the cloud reports a new desired
	// configuration and returns its raw declaration JSON.
	DesiredDeclaration(ctx context.Context) ([]byte, error)
}

// ApplyFromTwin fetches one desired declaration from twin and applies it
// to gw via ApplyUpdate. Per-module artifact reconciliation and
// deployed-manifest persistence (spec.md §4.6) happen inside ApplyUpdate
// itself, through whatever Reconciler gw.UseReconciler attached — twin
// only ever supplies the declaration to apply, never individual module
// artifacts.
func ApplyFromTwin(ctx context.Context, gw *Gateway, twin TwinClient) error {
	raw, err := twin.DesiredDeclaration(ctx)
	if err != nil {
		return fmt.Errorf("gateway: apply_from_twin: fetch desired declaration: %w", err)
	}
	decl, err := ParseDeclaration(raw)
	if err != nil {
		return fmt.Errorf("gateway: apply_from_twin: %w", err)
	}
	return gw.ApplyUpdate(decl)
}
