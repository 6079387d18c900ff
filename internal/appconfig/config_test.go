package appconfig

import (
	"errors"
	"testing"
	"time"

	"pkt.systems/carspot/schema"
)

func TestDefaultConfigServiceConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	svc, err := cfg.ServiceConfig()
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	if svc.ReviewDelay != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s review delay, got %v", svc.ReviewDelay)
	}
	if svc.CaptureTab != schema.TabGarage || svc.CaptureOrientation != schema.OrientationPortrait {
		t.Fatalf("unexpected capture defaults: %+v", svc)
	}
	if len(svc.Tabs) != len(schema.AllTabs) {
		t.Fatalf("expected every tab, got %v", svc.Tabs)
	}
	if svc.StrictLocks {
		t.Fatalf("expected tolerant locks by default")
	}
}

func TestServiceConfigRejectsUnknownTab(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Service.Tabs = []string{"home", "pitlane"}
	if _, err := cfg.ServiceConfig(); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab, got %v", err)
	}
}

func TestServiceConfigRejectsCaptureTabOutsideTabs(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Service.Tabs = []string{"home", "shop"}
	if _, err := cfg.ServiceConfig(); err == nil {
		t.Fatalf("expected capture tab validation error")
	}
}
