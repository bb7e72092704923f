package rabbitmqloader

import (
	"testing"

	"github.com/modbroker/gwbroker/loader"
)

func TestLoaderIdentity(t *testing.T) {
	l := New()
	if l.Name() != "rabbitmq" {
		t.Fatalf("Name() = %q, want rabbitmq", l.Name())
	}
	if l.Kind() != loader.OutOfProcess {
		t.Fatalf("Kind() = %v, want OutOfProcess", l.Kind())
	}
}

func TestLoadRejectsMissingURI(t *testing.T) {
	if _, err := New().Load([]byte(`{"publish_queue":"out"}`)); err == nil {
		t.Fatal("expected error for entrypoint with no uri")
	}
}

func TestLoadRejectsMalformedEntrypoint(t *testing.T) {
	if _, err := New().Load([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed entrypoint JSON")
	}
}
