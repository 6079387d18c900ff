package core

import (
	"context"
	"testing"
	"time"

	"pkt.systems/carspot/schema"
)

func TestTabRootFlagsFollowPath(t *testing.T) {
	nav := newTestNavigator(t, nil)
	root, err := NewTabRoot(nav, schema.TabMarketplace)
	if err != nil {
		t.Fatalf("new tab root: %v", err)
	}
	defer root.Close()

	if !root.AtRoot() {
		t.Fatalf("expected a new tab root at its root screen")
	}
	mustPush(t, nav, schema.TabMarketplace, schema.DestinationListing, "l1")
	mustPush(t, nav, schema.TabMarketplace, schema.DestinationListingCheckout, "l1")
	root.Refresh()
	if !root.Showing(schema.DestinationListingCheckout) {
		t.Fatalf("expected checkout flag derived from the path")
	}
	top, ok := root.Top()
	if !ok || top.Kind != schema.DestinationListingCheckout {
		t.Fatalf("expected checkout on top, got %+v", top)
	}

	nav.TriggerGlobalReset()
	view := root.Refresh()
	if !view.Reset || view.Kept {
		t.Fatalf("expected a clearing reset, got %+v", view)
	}
	if root.Showing(schema.DestinationListingCheckout) || root.Showing(schema.DestinationListing) {
		t.Fatalf("expected reset to clear every sub-screen flag")
	}
	if !root.AtRoot() {
		t.Fatalf("expected root screen after reset")
	}
}

func TestTabRootKeepsPreservedCapture(t *testing.T) {
	nav := newTestNavigator(t, nil)
	root, err := NewTabRoot(nav, schema.TabGarage)
	if err != nil {
		t.Fatalf("new tab root: %v", err)
	}
	defer root.Close()
	mustPush(t, nav, schema.TabGarage, schema.DestinationCapture, "s1")
	if err := nav.Preserve(schema.TabGarage); err != nil {
		t.Fatalf("preserve: %v", err)
	}
	nav.TriggerGlobalReset()
	view := root.Refresh()
	if !view.Reset || !view.Kept {
		t.Fatalf("expected a kept reset, got %+v", view)
	}
	if !root.Showing(schema.DestinationCapture) {
		t.Fatalf("expected capture screen to survive the reset")
	}
}

func TestTabRootWatch(t *testing.T) {
	nav := newTestNavigator(t, nil)
	root, err := NewTabRoot(nav, schema.TabHome)
	if err != nil {
		t.Fatalf("new tab root: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	views := make(chan TabView, 4)
	done := make(chan struct{})
	go func() {
		root.Watch(ctx, func(view TabView) { views <- view })
		close(done)
	}()

	mustPush(t, nav, schema.TabHome, schema.DestinationProfile, "me")
	select {
	case view := <-views:
		if len(view.Path) != 1 {
			t.Fatalf("expected one destination, got %+v", view.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected watch to deliver a view")
	}

	root.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected watch to stop after close")
	}
}
