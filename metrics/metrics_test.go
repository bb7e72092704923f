package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorObserveReceiveIncrementsCounters(t *testing.T) {
	before := testutil.ToFloat64(ReceiveTotal.WithLabelValues("handle(1)", "ok"))

	Collector{}.ObserveReceive("handle(1)", 5*time.Millisecond, nil)

	after := testutil.ToFloat64(ReceiveTotal.WithLabelValues("handle(1)", "ok"))
	if after != before+1 {
		t.Fatalf("ReceiveTotal = %v, want %v", after, before+1)
	}
}

func TestCollectorObserveReceiveLabelsErrors(t *testing.T) {
	before := testutil.ToFloat64(ReceiveTotal.WithLabelValues("handle(2)", "error"))

	Collector{}.ObserveReceive("handle(2)", time.Millisecond, errFake{})

	after := testutil.ToFloat64(ReceiveTotal.WithLabelValues("handle(2)", "error"))
	if after != before+1 {
		t.Fatalf("ReceiveTotal = %v, want %v", after, before+1)
	}
}

func TestSetModulesActive(t *testing.T) {
	SetModulesActive(3)
	if got := testutil.ToFloat64(ModulesActive); got != 3 {
		t.Fatalf("ModulesActive = %v, want 3", got)
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake" }
