// Package gateway implements the Gateway Orchestrator (spec.md §4.5/§4.6):
// declarative JSON configuration, atomic apply_update with rollback, and
// the Configuration Reconciler that compares a desired manifest against
// what is actually deployed.
package gateway

import (
	"encoding/json"
	"fmt"
)

// ThreadMessageLinkType is the declaration's magic string selecting a
// DIRECT link (spec.md §3, original_source's
// GATEWAY_LINK_ENTRY_MESSAGE_TYPE_THREAD); any other value, or the field
// being absent, means WIRE — the original's own default.
const ThreadMessageLinkType = "thread-message"

// LoaderDecl is the "loader" object nested under a module declaration.
type LoaderDecl struct {
	Name       string          `json:"name,omitempty"`
	Entrypoint json.RawMessage `json:"entrypoint,omitempty"`
}

// ModuleDecl is one entry of the declaration's "modules" array.
type ModuleDecl struct {
	Name    string          `json:"name"`
	Version string          `json:"version,omitempty"`
	Loader  LoaderDecl      `json:"loader"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// LinkDecl is one entry of the declaration's "links" array.
type LinkDecl struct {
	Source      string `json:"source"`
	Sink        string `json:"sink"`
	MessageType string `json:"message.type,omitempty"`
}

// Declaration is the gateway's desired-state document (spec.md §6): a
// top-level loaders list (optional — loaders may instead be registered
// programmatically before the declaration is applied), a modules list,
// and a links list, matching the original's MODULES_KEY/LINKS_KEY
// schema in gateway_createfromjson.c.
type Declaration struct {
	Loaders []LoaderDecl `json:"loaders,omitempty"`
	Modules []ModuleDecl `json:"modules,omitempty"`
	Links   []LinkDecl   `json:"links,omitempty"`
}

// ParseDeclaration parses and validates raw declaration JSON. It
// mirrors the original's schema check in parse_json_internal: the
// document must parse, and at least one of "modules" or "links" must be
// present (both absent is the one shape the original treats as a
// misconfigured file, not a legitimately empty gateway). A key that is
// present with an empty array counts as present.
func ParseDeclaration(raw []byte) (Declaration, error) {
	if len(raw) == 0 {
		return Declaration{}, fmt.Errorf("%w: parse_declaration: empty document", ErrInvalidArg)
	}

	var decl Declaration
	if err := json.Unmarshal(raw, &decl); err != nil {
		return Declaration{}, fmt.Errorf("%w: parse_declaration: %v", ErrMalformed, err)
	}

	if decl.Modules == nil && decl.Links == nil {
		return Declaration{}, fmt.Errorf("%w: parse_declaration: neither \"modules\" nor \"links\" present", ErrMalformed)
	}

	for i, m := range decl.Modules {
		if m.Name == "" {
			return Declaration{}, fmt.Errorf("%w: parse_declaration: module %d missing \"name\"", ErrMalformed, i)
		}
	}
	for i, l := range decl.Links {
		if l.Source == "" || l.Sink == "" {
			return Declaration{}, fmt.Errorf("%w: parse_declaration: link %d missing \"source\" or \"sink\"", ErrMalformed, i)
		}
	}

	return decl, nil
}

// LoaderName returns the module's loader name, defaulting to "native"
// when the declaration omits it — the original's own default
// (DYNAMIC_LOADER_NAME) when loader.name is absent.
func (m ModuleDecl) LoaderName() string {
	if m.Loader.Name == "" {
		return "native"
	}
	return m.Loader.Name
}

// IsDirect reports whether l declares a DIRECT (thread-message) link.
func (l LinkDecl) IsDirect() bool {
	return l.MessageType == ThreadMessageLinkType
}
