package gateway

import (
	"encoding/json"
	"fmt"
	"os"
)

// DeployedManifestEntry records one module's deployed state: the
// version last installed and the concrete on-disk path that version was
// written to (spec.md §6 "Persisted deployed manifest": "Each entry
// records name, version, and the concrete module.path actually
// installed").
type DeployedManifestEntry struct {
	Name       string `json:"name"`
	Version    string `json:"version,omitempty"`
	ModulePath string `json:"module.path,omitempty"`
}

// DeployedManifest is the persisted record of what a Gateway actually
// has running, one entry per module, matching the declaration's own
// "modules" array shape (spec.md §4.6). The Configuration Reconciler
// compares a declaration being applied against this manifest to decide
// which modules need a fresh artifact fetched.
type DeployedManifest struct {
	Modules []DeployedManifestEntry `json:"modules,omitempty"`
}

// find looks up a module's deployed entry by name (spec.md §4.6 step 1).
func (m DeployedManifest) find(name string) (DeployedManifestEntry, bool) {
	for _, e := range m.Modules {
		if e.Name == name {
			return e, true
		}
	}
	return DeployedManifestEntry{}, false
}

// LoadManifest reads a persisted DeployedManifest from path. A missing
// file is not an error — it means nothing has been deployed yet — and
// is reported via the ok return rather than an error, so callers don't
// have to sniff os.IsNotExist themselves.
func LoadManifest(path string) (manifest DeployedManifest, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DeployedManifest{}, false, nil
		}
		return DeployedManifest{}, false, fmt.Errorf("gateway: read manifest %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return DeployedManifest{}, false, fmt.Errorf("gateway: parse manifest %q: %w", path, err)
	}
	return manifest, true, nil
}

// Save persists m to path as indented JSON, overwriting any previous
// manifest.
func (m DeployedManifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("gateway: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("gateway: write manifest %q: %w", path, err)
	}
	return nil
}
