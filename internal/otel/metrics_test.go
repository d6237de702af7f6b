package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.FlushDuration == nil {
		t.Error("FlushDuration is nil")
	}
	if m.FlushItems == nil {
		t.Error("FlushItems is nil")
	}
	if m.FlushErrors == nil {
		t.Error("FlushErrors is nil")
	}
	if m.DirtyQueueDepth == nil {
		t.Error("DirtyQueueDepth is nil")
	}
	if m.QuestsAnnounced == nil {
		t.Error("QuestsAnnounced is nil")
	}
	if m.SignupsApplied == nil {
		t.Error("SignupsApplied is nil")
	}
	if m.SignupsSelected == nil {
		t.Error("SignupsSelected is nil")
	}
	if m.WizardSessions == nil {
		t.Error("WizardSessions is nil")
	}
	if m.APICallDuration == nil {
		t.Error("APICallDuration is nil")
	}
	if m.APICallErrors == nil {
		t.Error("APICallErrors is nil")
	}
	if m.RateLimitRejects == nil {
		t.Error("RateLimitRejects is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns a noop meter; metrics must still construct.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
