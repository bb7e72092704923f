package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/modbroker/gwbroker/log"
)

// entrypointArtifact is the conventional subset of keys the reconciler
// understands inside a module's loader entrypoint (spec.md §4.6 step 2):
// a remote source to fetch the module binary from, and the local path
// add_module will load it from. Every other entrypoint shape remains
// opaque to the broker and gateway core — only the reconciler peeks at
// these two keys, and only when it needs to decide whether to fetch.
type entrypointArtifact struct {
	ModuleURI  string `json:"module.uri,omitempty"`
	ModulePath string `json:"module.path,omitempty"`
}

func (m ModuleDecl) artifact() entrypointArtifact {
	var a entrypointArtifact
	_ = json.Unmarshal(m.Loader.Entrypoint, &a)
	return a
}

// Reconciler is the Configuration Reconciler (spec.md §4.6/C8). Given a
// module entry about to be applied and the persisted DeployedManifest,
// it fetches a new module artifact when the declared version differs
// from what is deployed and the entrypoint names an https:// source, and
// afterwards persists the manifest apply_update actually reached.
//
// net/http is used for the artifact fetch (stdlib): no HTTP client
// library appears anywhere in the retrieval pack for a plain
// GET-and-save, and the cloud SDKs present there (AWS, GCP) each wrap
// their own transport rather than exposing a reusable bare client, so
// there is no ecosystem library this displaces. See DESIGN.md.
type Reconciler struct {
	manifestPath string
	client       *http.Client
	logger       zerolog.Logger
}

// NewReconciler builds a Reconciler that persists its manifest at
// manifestPath and fetches artifacts with a 30-second-timeout client.
func NewReconciler(manifestPath string) *Reconciler {
	return &Reconciler{
		manifestPath: manifestPath,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       log.WithComponent("reconciler"),
	}
}

// reconcile implements spec.md §4.6 steps 1-2, once per module about to
// be applied: locate it in the deployed manifest by name; if its version
// differs from what's deployed (including "never deployed") and its
// entrypoint names an https:// module.uri, fetch that artifact and write
// it to module.path before add_module ever runs (spec.md §4.5 step 3).
//
// A download failure — transport error or non-200 — is logged and does
// not abort the update; the existing local file, if any, is used
// instead (spec.md §4.6 step 2, §7 "Reconciler download failures are
// logged and do not abort update when a local file already exists").
func (r *Reconciler) reconcile(ctx context.Context, modules []ModuleDecl) error {
	manifest, _, err := LoadManifest(r.manifestPath)
	if err != nil {
		return fmt.Errorf("gateway: reconcile: load manifest: %w", err)
	}

	for _, m := range modules {
		deployed, known := manifest.find(m.Name)
		if known && deployed.Version == m.Version {
			continue
		}

		art := m.artifact()
		host, path, ok := splitArtifactURL(art.ModuleURI)
		if !ok || art.ModulePath == "" {
			continue
		}

		body, err := r.fetch(ctx, art.ModuleURI)
		if err != nil {
			r.logger.Warn().Err(err).Str("module", m.Name).Str("host", host).Str("path", path).Msg("artifact fetch failed, using existing local file")
			continue
		}
		if err := os.WriteFile(art.ModulePath, body, 0o644); err != nil {
			r.logger.Warn().Err(err).Str("module", m.Name).Str("module.path", art.ModulePath).Msg("writing fetched artifact failed, using existing local file")
			continue
		}
		r.logger.Info().Str("module", m.Name).Str("from", deployed.Version).Str("to", m.Version).Str("module.path", art.ModulePath).Msg("fetched updated module artifact")
	}
	return nil
}

// persist records the version and module.path actually reached for
// every module in modules, preserving entries for modules this update
// didn't touch — apply_update is additive, and so is the manifest it
// leaves behind (spec.md §4.5 step 6, §4.6 step 3).
func (r *Reconciler) persist(modules []ModuleDecl) error {
	manifest, _, err := LoadManifest(r.manifestPath)
	if err != nil {
		return fmt.Errorf("gateway: reconcile: load manifest: %w", err)
	}

	byName := make(map[string]DeployedManifestEntry, len(manifest.Modules)+len(modules))
	for _, e := range manifest.Modules {
		byName[e.Name] = e
	}
	for _, m := range modules {
		path := m.artifact().ModulePath
		if path == "" {
			path = byName[m.Name].ModulePath
		}
		byName[m.Name] = DeployedManifestEntry{Name: m.Name, Version: m.Version, ModulePath: path}
	}

	out := DeployedManifest{Modules: make([]DeployedManifestEntry, 0, len(byName))}
	for _, e := range byName {
		out.Modules = append(out.Modules, e)
	}
	sort.Slice(out.Modules, func(i, j int) bool { return out.Modules[i].Name < out.Modules[j].Name })

	return out.Save(r.manifestPath)
}

func (r *Reconciler) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %q", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// splitArtifactURL implements spec.md §4.6 step 2's "split into host and
// relative path by the first / after the scheme": ok is false unless uri
// has an https:// scheme, the only form the original's artifact-URL
// convention recognizes.
func splitArtifactURL(uri string) (host, path string, ok bool) {
	const scheme = "https://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", false
	}
	rest := uri[len(scheme):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return rest[:slash], rest[slash:], true
	}
	return rest, "/", true
}
