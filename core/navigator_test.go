package core

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"pkt.systems/carspot/schema"
)

type recordingNavSink struct {
	mu     sync.Mutex
	events []schema.NavigationEvent
}

func (s *recordingNavSink) OnNavigationEvent(event schema.NavigationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingNavSink) types() []schema.NavigationEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.NavigationEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.Type)
	}
	return out
}

func newTestNavigator(t *testing.T, sink NavigationSink) *Navigator {
	t.Helper()
	nav, err := NewNavigator(NavigatorOptions{Sink: sink})
	if err != nil {
		t.Fatalf("new navigator: %v", err)
	}
	return nav
}

func mustPush(t *testing.T, nav *Navigator, tab schema.TabID, kind schema.DestinationKind, ref string) {
	t.Helper()
	if err := nav.Push(tab, schema.Destination{Kind: kind, Ref: ref}); err != nil {
		t.Fatalf("push %s %s/%s: %v", tab, kind, ref, err)
	}
}

func mustPath(t *testing.T, nav *Navigator, tab schema.TabID) []schema.Destination {
	t.Helper()
	path, err := nav.CurrentPath(tab)
	if err != nil {
		t.Fatalf("current path %s: %v", tab, err)
	}
	return path
}

func TestNavigatorPushPop(t *testing.T) {
	nav := newTestNavigator(t, nil)
	mustPush(t, nav, schema.TabGarage, schema.DestinationCollection, "jdm")
	mustPush(t, nav, schema.TabGarage, schema.DestinationCard, "c1")

	want := []schema.Destination{
		{Kind: schema.DestinationCollection, Ref: "jdm"},
		{Kind: schema.DestinationCard, Ref: "c1"},
	}
	if diff := cmp.Diff(want, mustPath(t, nav, schema.TabGarage)); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}

	dest, ok, err := nav.Pop(schema.TabGarage)
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if dest != want[1] {
		t.Fatalf("expected popped %+v, got %+v", want[1], dest)
	}
	if err := nav.PopToRoot(schema.TabGarage); err != nil {
		t.Fatalf("pop to root: %v", err)
	}
	if path := mustPath(t, nav, schema.TabGarage); len(path) != 0 {
		t.Fatalf("expected empty path, got %+v", path)
	}
	if _, ok, err := nav.Pop(schema.TabGarage); ok || err != nil {
		t.Fatalf("expected pop on empty path to report ok=false, got ok=%v err=%v", ok, err)
	}
	if path := mustPath(t, nav, schema.TabHome); path == nil || len(path) != 0 {
		t.Fatalf("expected untouched tab to be an empty non-nil path, got %#v", path)
	}
}

func TestNavigatorPopIf(t *testing.T) {
	nav := newTestNavigator(t, nil)
	capture := schema.Destination{Kind: schema.DestinationCapture, Ref: "s1"}
	if err := nav.Push(schema.TabGarage, capture); err != nil {
		t.Fatalf("push: %v", err)
	}
	mustPush(t, nav, schema.TabGarage, schema.DestinationCard, "c1")

	popped, err := nav.PopIf(schema.TabGarage, capture)
	if err != nil {
		t.Fatalf("pop if: %v", err)
	}
	if popped {
		t.Fatalf("expected pop if to skip a non-top destination")
	}
	if _, _, err := nav.Pop(schema.TabGarage); err != nil {
		t.Fatalf("pop: %v", err)
	}
	popped, err = nav.PopIf(schema.TabGarage, capture)
	if err != nil || !popped {
		t.Fatalf("expected pop if to remove the capture destination, popped=%v err=%v", popped, err)
	}
}

func TestNavigatorRejectsUnknownTab(t *testing.T) {
	nav := newTestNavigator(t, nil)
	if err := nav.Push("pitlane", schema.Destination{Kind: schema.DestinationCard}); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab on push, got %v", err)
	}
	if _, err := nav.CurrentPath("pitlane"); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab on path, got %v", err)
	}
	if err := nav.Preserve("pitlane"); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab on preserve, got %v", err)
	}
	if _, err := nav.Subscribe("pitlane"); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab on subscribe, got %v", err)
	}
	if _, err := NewNavigator(NavigatorOptions{Tabs: []schema.TabID{schema.TabHome, "pitlane"}}); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab from constructor, got %v", err)
	}
}

func TestNavigatorPushRejectsEmptyDestination(t *testing.T) {
	nav := newTestNavigator(t, nil)
	if err := nav.Push(schema.TabHome, schema.Destination{}); !errors.Is(err, schema.ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}

func TestNavigatorResetClearsUnpreservedTabs(t *testing.T) {
	nav := newTestNavigator(t, nil)
	mustPush(t, nav, schema.TabHome, schema.DestinationProfile, "me")
	mustPush(t, nav, schema.TabShop, schema.DestinationListing, "l1")
	mustPush(t, nav, schema.TabShop, schema.DestinationListingCheckout, "l1")

	if trigger := nav.TriggerGlobalReset(); trigger != 1 {
		t.Fatalf("expected trigger 1, got %d", trigger)
	}
	for _, tab := range nav.Tabs() {
		if path := mustPath(t, nav, tab); len(path) != 0 {
			t.Fatalf("expected %s cleared after reset, got %+v", tab, path)
		}
	}
}

func TestNavigatorResetKeepsPreservedTabOnce(t *testing.T) {
	nav := newTestNavigator(t, nil)
	mustPush(t, nav, schema.TabGarage, schema.DestinationCapture, "s1")
	mustPush(t, nav, schema.TabHome, schema.DestinationProfile, "me")
	if err := nav.Preserve(schema.TabGarage); err != nil {
		t.Fatalf("preserve: %v", err)
	}

	nav.TriggerGlobalReset()
	if path := mustPath(t, nav, schema.TabGarage); len(path) != 1 {
		t.Fatalf("expected preserved garage path kept, got %+v", path)
	}
	if path := mustPath(t, nav, schema.TabHome); len(path) != 0 {
		t.Fatalf("expected home cleared, got %+v", path)
	}
	preserved, err := nav.IsPreserved(schema.TabGarage)
	if err != nil {
		t.Fatalf("is preserved: %v", err)
	}
	if preserved {
		t.Fatalf("expected preservation consumed by the reset")
	}

	nav.TriggerGlobalReset()
	if path := mustPath(t, nav, schema.TabGarage); len(path) != 0 {
		t.Fatalf("expected second reset to clear garage, got %+v", path)
	}
}

func TestNavigatorRepeatedTriggersApplyOnce(t *testing.T) {
	nav := newTestNavigator(t, nil)
	mustPush(t, nav, schema.TabGarage, schema.DestinationCard, "c1")
	if err := nav.Preserve(schema.TabGarage); err != nil {
		t.Fatalf("preserve: %v", err)
	}
	sub, err := nav.Subscribe(schema.TabGarage)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	nav.TriggerGlobalReset()
	nav.TriggerGlobalReset()
	view := sub.Sync()
	if !view.Reset || !view.Kept {
		t.Fatalf("expected one kept reset, got %+v", view)
	}
	if len(view.Path) != 1 {
		t.Fatalf("expected path kept across coalesced triggers, got %+v", view.Path)
	}
	if view.Trigger != 2 {
		t.Fatalf("expected trigger 2, got %d", view.Trigger)
	}

	again := sub.Sync()
	if again.Reset {
		t.Fatalf("expected no reset reported without a new trigger")
	}
	if len(again.Path) != 1 {
		t.Fatalf("expected path stable on a repeated sync, got %+v", again.Path)
	}
}

func TestNavigatorPreservedMembershipIsReadAtTrigger(t *testing.T) {
	nav := newTestNavigator(t, nil)
	mustPush(t, nav, schema.TabGarage, schema.DestinationCapture, "s1")
	nav.TriggerGlobalReset()
	// Preserving after the trigger does not rescue the path.
	if err := nav.Preserve(schema.TabGarage); err != nil {
		t.Fatalf("preserve: %v", err)
	}
	if path := mustPath(t, nav, schema.TabGarage); len(path) != 0 {
		t.Fatalf("expected garage cleared by the earlier trigger, got %+v", path)
	}
	preserved, _ := nav.IsPreserved(schema.TabGarage)
	if !preserved {
		t.Fatalf("expected the late preservation to stand for the next reset")
	}
}

func TestNavigatorPreserveIsIdempotent(t *testing.T) {
	sink := &recordingNavSink{}
	nav := newTestNavigator(t, sink)
	for i := 0; i < 3; i++ {
		if err := nav.Preserve(schema.TabShop); err != nil {
			t.Fatalf("preserve: %v", err)
		}
	}
	if err := nav.Unpreserve(schema.TabShop); err != nil {
		t.Fatalf("unpreserve: %v", err)
	}
	if err := nav.Unpreserve(schema.TabShop); err != nil {
		t.Fatalf("unpreserve: %v", err)
	}
	want := []schema.NavigationEventType{schema.NavigationPreserved, schema.NavigationUnpreserved}
	if diff := cmp.Diff(want, sink.types()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigatorSinkEvents(t *testing.T) {
	sink := &recordingNavSink{}
	nav := newTestNavigator(t, sink)
	mustPush(t, nav, schema.TabHome, schema.DestinationSettings, "")
	if _, _, err := nav.Pop(schema.TabHome); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if err := nav.PopToRoot(schema.TabHome); err != nil {
		t.Fatalf("pop to root: %v", err)
	}
	nav.TriggerGlobalReset()

	want := []schema.NavigationEventType{
		schema.NavigationPushed,
		schema.NavigationPopped,
		schema.NavigationRoot,
		schema.NavigationReset,
	}
	if diff := cmp.Diff(want, sink.types()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriptionCoalescesNotifications(t *testing.T) {
	nav := newTestNavigator(t, nil)
	sub, err := nav.Subscribe(schema.TabMarketplace)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		mustPush(t, nav, schema.TabMarketplace, schema.DestinationListing, "l")
	}
	select {
	case <-sub.C():
	default:
		t.Fatalf("expected a pending notification")
	}
	select {
	case <-sub.C():
		t.Fatalf("expected notifications to coalesce")
	default:
	}
	if view := sub.Sync(); len(view.Path) != 5 {
		t.Fatalf("expected 5 destinations, got %d", len(view.Path))
	}
}

func TestSubscriptionIgnoresOtherTabs(t *testing.T) {
	nav := newTestNavigator(t, nil)
	sub, err := nav.Subscribe(schema.TabHome)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	mustPush(t, nav, schema.TabShop, schema.DestinationListing, "l1")
	select {
	case <-sub.C():
		t.Fatalf("did not expect a notification for another tab")
	default:
	}
	nav.TriggerGlobalReset()
	select {
	case <-sub.C():
	default:
		t.Fatalf("expected reset to notify every subscriber")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	nav := newTestNavigator(t, nil)
	sub, err := nav.Subscribe(schema.TabHome)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	mustPush(t, nav, schema.TabHome, schema.DestinationProfile, "me")
	nav.TriggerGlobalReset()
}

func TestNavigatorSnapshotRestore(t *testing.T) {
	nav := newTestNavigator(t, nil)
	mustPush(t, nav, schema.TabGarage, schema.DestinationCollection, "jdm")
	mustPush(t, nav, schema.TabShop, schema.DestinationListing, "l9")
	if err := nav.Preserve(schema.TabShop); err != nil {
		t.Fatalf("preserve: %v", err)
	}
	nav.TriggerGlobalReset()
	mustPush(t, nav, schema.TabGarage, schema.DestinationCard, "c1")
	snapshot := nav.Snapshot()

	restored := newTestNavigator(t, nil)
	restored.Restore(snapshot)
	if diff := cmp.Diff(snapshot, restored.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if restored.ResetTrigger() != 1 {
		t.Fatalf("expected restored trigger 1, got %d", restored.ResetTrigger())
	}
	shop, err := restored.Tab(schema.TabShop)
	if err != nil {
		t.Fatalf("tab: %v", err)
	}
	if len(shop.Path) != 1 || shop.Preserved {
		t.Fatalf("expected shop kept with consumed preservation, got %+v", shop)
	}
}

func TestNavigatorRestoreSkipsUnknownTabs(t *testing.T) {
	nav, err := NewNavigator(NavigatorOptions{Tabs: []schema.TabID{schema.TabHome, schema.TabGarage}})
	if err != nil {
		t.Fatalf("new navigator: %v", err)
	}
	nav.Restore(schema.NavigationSnapshot{
		Trigger: 4,
		Tabs: []schema.TabSnapshot{
			{ID: schema.TabShop, Path: []schema.Destination{{Kind: schema.DestinationListing, Ref: "x"}}},
			{ID: schema.TabHome, Path: []schema.Destination{{Kind: "Bad Kind!"}, {Kind: schema.DestinationProfile, Ref: "me"}}},
		},
	})
	home := mustPath(t, nav, schema.TabHome)
	if len(home) != 1 || home[0].Kind != schema.DestinationProfile {
		t.Fatalf("expected invalid destinations dropped on restore, got %+v", home)
	}
	if _, err := nav.CurrentPath(schema.TabShop); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("expected shop to stay unmanaged, got %v", err)
	}
}

func TestNavigatorConcurrentAccess(t *testing.T) {
	nav := newTestNavigator(t, nil)
	var wg sync.WaitGroup
	for _, tab := range nav.Tabs() {
		sub, err := nav.Subscribe(tab)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		wg.Add(2)
		go func(tab schema.TabID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = nav.Push(tab, schema.Destination{Kind: schema.DestinationCard, Ref: "c"})
				if i%7 == 0 {
					nav.TriggerGlobalReset()
				}
			}
		}(tab)
		go func(sub *Subscription) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sub.Sync()
			}
			sub.Close()
		}(sub)
	}
	wg.Wait()
}

func TestNavigatorSinkSeesPushesInApplyOrder(t *testing.T) {
	sink := &recordingNavSink{}
	nav := newTestNavigator(t, sink)
	const workers, pushes = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < pushes; i++ {
				if err := nav.Push(schema.TabHome, schema.Destination{Kind: schema.DestinationListing, Ref: fmt.Sprintf("w%d-%d", w, i)}); err != nil {
					t.Errorf("push: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != workers*pushes {
		t.Fatalf("expected %d events, got %d", workers*pushes, len(sink.events))
	}
	for i, event := range sink.events {
		if len(event.Path) != i+1 {
			t.Fatalf("event %d carries depth %d, want %d", i, len(event.Path), i+1)
		}
	}
}

// navModel is the eager reference for reset processing: a trigger marks every
// tab, and the mark is applied the next time the tab is touched.
type navModel struct {
	paths     map[schema.TabID][]schema.Destination
	preserved map[schema.TabID]bool
	pending   map[schema.TabID]bool
}

func newNavModel() *navModel {
	return &navModel{
		paths:     make(map[schema.TabID][]schema.Destination),
		preserved: make(map[schema.TabID]bool),
		pending:   make(map[schema.TabID]bool),
	}
}

func (m *navModel) settle(tab schema.TabID) {
	if !m.pending[tab] {
		return
	}
	m.pending[tab] = false
	if m.preserved[tab] {
		m.preserved[tab] = false
		return
	}
	m.paths[tab] = nil
}

func TestNavigatorMatchesModelForRandomSequences(t *testing.T) {
	tabs := schema.AllTabs
	for seed := uint64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		nav := newTestNavigator(t, nil)
		model := newNavModel()
		var trace []string

		for step := 0; step < 80; step++ {
			tab := tabs[rng.IntN(len(tabs))]
			switch op := rng.IntN(10); {
			case op < 4:
				dest := schema.Destination{Kind: schema.DestinationListing, Ref: fmt.Sprintf("r%d", step)}
				if err := nav.Push(tab, dest); err != nil {
					t.Fatalf("seed %d push: %v", seed, err)
				}
				model.settle(tab)
				model.paths[tab] = append(model.paths[tab], dest)
				trace = append(trace, "push "+string(tab))
			case op == 4:
				if err := nav.PopToRoot(tab); err != nil {
					t.Fatalf("seed %d pop to root: %v", seed, err)
				}
				model.settle(tab)
				model.paths[tab] = nil
				trace = append(trace, "root "+string(tab))
			case op == 5:
				if err := nav.Preserve(tab); err != nil {
					t.Fatalf("seed %d preserve: %v", seed, err)
				}
				model.settle(tab)
				model.preserved[tab] = true
				trace = append(trace, "preserve "+string(tab))
			case op == 6:
				if err := nav.Unpreserve(tab); err != nil {
					t.Fatalf("seed %d unpreserve: %v", seed, err)
				}
				model.settle(tab)
				model.preserved[tab] = false
				trace = append(trace, "unpreserve "+string(tab))
			case op < 9:
				nav.TriggerGlobalReset()
				for _, each := range tabs {
					model.pending[each] = true
				}
				trace = append(trace, "reset")
			default:
				got := mustPath(t, nav, tab)
				model.settle(tab)
				if diff := cmp.Diff(model.paths[tab], got, cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("seed %d %s path mismatch after %v (-model +navigator):\n%s", seed, tab, trace, diff)
				}
				trace = append(trace, "check "+string(tab))
			}
		}

		for _, tab := range tabs {
			got, err := nav.Tab(tab)
			if err != nil {
				t.Fatalf("seed %d tab: %v", seed, err)
			}
			model.settle(tab)
			if diff := cmp.Diff(model.paths[tab], got.Path, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("seed %d final %s path (-model +navigator):\n%s", seed, tab, diff)
			}
			if got.Preserved != model.preserved[tab] {
				t.Fatalf("seed %d final %s preserved=%v, model %v", seed, tab, got.Preserved, model.preserved[tab])
			}
		}
	}
}
