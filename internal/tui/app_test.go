package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"pkt.systems/carspot/core"
	"pkt.systems/carspot/schema"
)

func newTestApp(t *testing.T) (*App, core.Service) {
	t.Helper()
	service, err := core.NewService(schema.ServiceConfig{StateDir: t.TempDir()}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	app, err := NewApp(context.Background(), service, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	app.SetPhotoSource(func() schema.Image {
		return schema.Image{Data: []byte("fixed"), Width: 4, Height: 3}
	})
	t.Cleanup(func() {
		app.Close()
		_ = service.Close(context.Background())
	})
	return app, service
}

func press(app *App, key string) {
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	app.Update(msg)
}

func syncTabs(app *App, tabs ...schema.TabID) {
	for _, tab := range tabs {
		app.Update(tabChangedMsg{tab: tab})
	}
}

func TestTabBarSwitching(t *testing.T) {
	bar := NewTabBar(schema.AllTabs)
	if bar.Active() != schema.TabHome {
		t.Fatalf("expected home first, got %s", bar.Active())
	}
	bar, _ = bar.Update(tea.KeyMsg{Type: tea.KeyTab})
	if bar.Active() != schema.TabGarage {
		t.Fatalf("expected garage after tab, got %s", bar.Active())
	}
	bar, _ = bar.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	bar, _ = bar.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if bar.Active() != schema.TabLeaderboard {
		t.Fatalf("expected wrap to leaderboard, got %s", bar.Active())
	}
	bar, _ = bar.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("3")})
	if bar.Active() != schema.TabShop {
		t.Fatalf("expected shop on 3, got %s", bar.Active())
	}
	bar.SetActive(99)
	if bar.Active() != schema.TabLeaderboard {
		t.Fatalf("expected clamp to last tab, got %s", bar.Active())
	}
}

func TestPushPopAndPreserve(t *testing.T) {
	app, service := newTestApp(t)

	press(app, "enter")
	press(app, "enter")
	syncTabs(app, schema.TabHome)
	if !strings.Contains(app.View(), "home > collection:page-1 > collection:page-2") {
		t.Fatalf("expected breadcrumb in view:\n%s", app.View())
	}
	press(app, "esc")
	resp, err := service.GetPath(context.Background(), schema.GetPathRequest{Tab: schema.TabHome})
	if err != nil {
		t.Fatalf("get path: %v", err)
	}
	if len(resp.Tab.Path) != 1 {
		t.Fatalf("expected one destination after pop, got %+v", resp.Tab.Path)
	}

	press(app, "p")
	syncTabs(app, schema.TabHome)
	if !strings.Contains(app.bar.View(), "Home *") {
		t.Fatalf("expected preserved marker:\n%s", app.bar.View())
	}
	press(app, "r")
	syncTabs(app, schema.TabHome)
	if !strings.Contains(app.status, "kept its screen") {
		t.Fatalf("expected kept status, got %q", app.status)
	}
	press(app, "h")
	press(app, "esc")
	if !strings.Contains(app.status, "already at home root") {
		t.Fatalf("expected root status, got %q", app.status)
	}
}

func TestKeysReadLiveTabState(t *testing.T) {
	app, service := newTestApp(t)
	ctx := context.Background()

	press(app, "enter")
	press(app, "enter")
	press(app, "enter")
	resp, err := service.GetPath(ctx, schema.GetPathRequest{Tab: schema.TabHome})
	if err != nil {
		t.Fatalf("get path: %v", err)
	}
	var refs []string
	for _, dest := range resp.Tab.Path {
		refs = append(refs, dest.Ref)
	}
	if strings.Join(refs, ",") != "page-1,page-2,page-3" {
		t.Fatalf("expected one new page per key press, got %v", refs)
	}

	press(app, "p")
	press(app, "p")
	resp, err = service.GetPath(ctx, schema.GetPathRequest{Tab: schema.TabHome})
	if err != nil {
		t.Fatalf("get path: %v", err)
	}
	if resp.Tab.Preserved {
		t.Fatalf("expected two presses to toggle preservation back off")
	}
}

func TestCaptureKeys(t *testing.T) {
	app, service := newTestApp(t)

	press(app, "c")
	if app.capture == nil || app.capture.State != schema.CaptureCapturing {
		t.Fatalf("expected capturing session, got %+v", app.capture)
	}
	press(app, "2")
	syncTabs(app, schema.TabGarage)
	if !strings.Contains(app.View(), "state capturing") {
		t.Fatalf("expected capture panel on garage:\n%s", app.View())
	}

	press(app, "s")
	if app.capture.State != schema.CaptureAwaitingIdentification {
		t.Fatalf("expected awaiting identification, got %s", app.capture.State)
	}
	id := app.capture.SessionID
	if _, err := service.ResolveIdentification(context.Background(), schema.ResolveIdentificationRequest{
		SessionID: id,
		Subject:   schema.Subject{Make: "Mazda", Model: "MX-5"},
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	press(app, "y")
	if !strings.Contains(app.status, "review delay not elapsed") {
		t.Fatalf("expected early confirm to be refused, got %q", app.status)
	}
	press(app, "n")
	if app.capture.State != schema.CaptureRetryRequested {
		t.Fatalf("expected retry requested, got %s", app.capture.State)
	}
	press(app, "t")
	if !app.capture.Retry || !app.capture.HasImage {
		t.Fatalf("expected retry pass with photo, got %+v", app.capture)
	}
	press(app, "x")
	if app.capture.Outcome != schema.OutcomeCancelled {
		t.Fatalf("expected cancelled, got %+v", app.capture)
	}
}

func TestQuit(t *testing.T) {
	app, _ := newTestApp(t)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected QuitMsg")
	}
}
