package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"pkt.systems/carspot/core"
	"pkt.systems/carspot/internal/eventbus"
	"pkt.systems/carspot/schema"
)

// tabChangedMsg reports that a tab root may render something new.
type tabChangedMsg struct {
	tab schema.TabID
}

// busMsg carries a service event.
type busMsg struct {
	event eventbus.Event
}

// PhotoSource produces the photo submitted when the user presses the shutter key.
type PhotoSource func() schema.Image

// App is the bubbletea model for the terminal client.
type App struct {
	ctx     context.Context
	service core.Service
	events  <-chan eventbus.Event
	roots   map[schema.TabID]*core.TabRoot
	bar     TabBar
	photo   PhotoSource

	capture     *schema.CaptureSnapshot
	orientation schema.Orientation
	status      string
	width       int

	titleStyle  lipgloss.Style
	pathStyle   lipgloss.Style
	statusStyle lipgloss.Style
	helpStyle   lipgloss.Style
	panelStyle  lipgloss.Style
}

// NewApp builds a client over service. events may be nil.
func NewApp(ctx context.Context, service core.Service, events <-chan eventbus.Event) (*App, error) {
	nav := service.Navigator()
	tabs := nav.Tabs()
	roots := make(map[schema.TabID]*core.TabRoot, len(tabs))
	for _, tab := range tabs {
		root, err := core.NewTabRoot(nav, tab)
		if err != nil {
			for _, r := range roots {
				r.Close()
			}
			return nil, err
		}
		roots[tab] = root
	}
	a := &App{
		ctx:         ctx,
		service:     service,
		events:      events,
		roots:       roots,
		bar:         NewTabBar(tabs),
		photo:       samplePhoto,
		orientation: schema.OrientationAll,

		titleStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		pathStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		statusStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		helpStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		panelStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
	}
	a.refreshMarks()
	return a, nil
}

// SetPhotoSource replaces the built-in sample photo generator.
func (a *App) SetPhotoSource(src PhotoSource) {
	if src != nil {
		a.photo = src
	}
}

// Close releases the navigator subscriptions.
func (a *App) Close() {
	for _, root := range a.roots {
		root.Close()
	}
}

// Init starts listening for tab and service changes.
func (a *App) Init() tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(a.roots)+1)
	for _, root := range a.roots {
		cmds = append(cmds, waitForTab(root))
	}
	if a.events != nil {
		cmds = append(cmds, waitForEvent(a.events))
	}
	return tea.Batch(cmds...)
}

func waitForTab(root *core.TabRoot) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-root.Changes(); !ok {
			return nil
		}
		return tabChangedMsg{tab: root.Tab()}
	}
}

func waitForEvent(events <-chan eventbus.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return busMsg{event: event}
	}
}

// Update handles keys and change notifications.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		return a, nil
	case tabChangedMsg:
		root := a.roots[msg.tab]
		if root == nil {
			return a, nil
		}
		view := root.Refresh()
		if view.Reset && view.Kept {
			a.status = fmt.Sprintf("%s kept its screen through the reset", view.Tab)
		}
		a.refreshMarks()
		return a, waitForTab(root)
	case busMsg:
		a.applyEvent(msg.event)
		return a, waitForEvent(a.events)
	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) applyEvent(event eventbus.Event) {
	switch event.Type {
	case eventbus.EventCapture:
		if a.capture == nil || a.capture.SessionID != event.Capture.Session.SessionID {
			return
		}
		session := event.Capture.Session
		a.capture = &session
		switch event.Capture.Type {
		case schema.CaptureEventSaved:
			if event.Capture.Card != nil {
				a.status = "saved card " + event.Capture.Card.Subject.Title()
			}
		case schema.CaptureEventCompleted:
			a.status = "capture " + string(session.Outcome)
			if session.FailedReason != "" {
				a.status += ": " + session.FailedReason
			}
		}
	case eventbus.EventOrientation:
		a.orientation = event.Orientation.Orientation
	}
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	tab := a.bar.Active()
	switch msg.String() {
	case "ctrl+c", "q":
		return a, tea.Quit
	case "tab", "shift+tab", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		var cmd tea.Cmd
		a.bar, cmd = a.bar.Update(msg)
		return a, cmd
	case "enter":
		current, err := a.liveTab(tab)
		if err != nil {
			a.report(current, err)
			return a, nil
		}
		dest := schema.Destination{Kind: schema.DestinationCollection, Ref: fmt.Sprintf("page-%d", len(current.Path)+1)}
		a.report(a.service.Push(a.ctx, schema.PushRequest{Tab: tab, Destination: dest}))
	case "backspace", "esc":
		resp, err := a.service.Pop(a.ctx, schema.PopRequest{Tab: tab})
		if err == nil && resp.Popped == nil {
			a.status = "already at " + string(tab) + " root"
			return a, nil
		}
		a.report(resp, err)
	case "h":
		a.report(a.service.PopToRoot(a.ctx, schema.PopToRootRequest{Tab: tab}))
	case "p":
		current, err := a.liveTab(tab)
		if err != nil {
			a.report(current, err)
			return a, nil
		}
		a.report(a.service.SetPreserved(a.ctx, schema.PreserveRequest{Tab: tab, Preserve: !current.Preserved}))
	case "r":
		resp, err := a.service.TriggerReset(a.ctx, schema.TriggerResetRequest{})
		if err == nil {
			a.status = fmt.Sprintf("reset #%d", resp.Trigger)
			return a, nil
		}
		a.report(resp, err)
	case "c":
		resp, err := a.service.StartCapture(a.ctx, schema.StartCaptureRequest{})
		if err == nil {
			a.capture = &resp.Session
			a.status = "capturing, press s to shoot"
			return a, nil
		}
		a.report(resp, err)
	default:
		a.handleCaptureKey(msg.String())
	}
	return a, nil
}

// liveTab reads tab from the navigator. Key handlers use it instead of the
// rendered view, which lags until the tab's change notification is handled.
func (a *App) liveTab(tab schema.TabID) (schema.TabSnapshot, error) {
	resp, err := a.service.GetPath(a.ctx, schema.GetPathRequest{Tab: tab})
	return resp.Tab, err
}

func (a *App) handleCaptureKey(key string) {
	if a.capture == nil {
		return
	}
	id := a.capture.SessionID
	var (
		session schema.CaptureSnapshot
		err     error
	)
	switch key {
	case "s":
		var resp schema.SubmitPhotoResponse
		resp, err = a.service.SubmitPhoto(a.ctx, schema.SubmitPhotoRequest{SessionID: id, Image: a.photo()})
		session = resp.Session
	case "y":
		var resp schema.ConfirmCaptureResponse
		resp, err = a.service.ConfirmCapture(a.ctx, schema.ConfirmCaptureRequest{SessionID: id})
		session = resp.Session
	case "n":
		var resp schema.RejectSubjectResponse
		resp, err = a.service.RejectSubject(a.ctx, schema.RejectSubjectRequest{SessionID: id})
		session = resp.Session
	case "t":
		var resp schema.StartCaptureResponse
		resp, err = a.service.StartCapture(a.ctx, schema.StartCaptureRequest{SessionID: id, Retry: true})
		session = resp.Session
	case "x":
		var resp schema.CancelCaptureResponse
		resp, err = a.service.CancelCapture(a.ctx, schema.CancelCaptureRequest{SessionID: id})
		session = resp.Session
	default:
		return
	}
	if err != nil {
		a.status = err.Error()
		return
	}
	a.capture = &session
	a.status = "capture " + string(session.State)
}

func (a *App) report(_ any, err error) {
	if err != nil {
		a.status = err.Error()
		return
	}
	a.status = ""
}

func (a *App) refreshMarks() {
	for tab, root := range a.roots {
		mark := ""
		if root.View().Preserved {
			mark = "*"
		}
		a.bar.SetMark(tab, mark)
	}
}

// View renders the client.
func (a *App) View() string {
	tab := a.bar.Active()
	root := a.roots[tab]
	var b strings.Builder
	b.WriteString(a.titleStyle.Render("carspot"))
	b.WriteString("  ")
	b.WriteString(a.helpStyle.Render("orientation: " + string(a.orientation)))
	b.WriteString("\n")
	b.WriteString(a.bar.View())
	b.WriteString("\n")
	if root != nil {
		b.WriteString(a.pathStyle.Render(renderPath(tab, root.View().Path)))
		b.WriteString("\n")
		if root.Showing(schema.DestinationCapture) && a.capture != nil {
			b.WriteString(a.panelStyle.Render(renderCapture(*a.capture)))
			b.WriteString("\n")
		}
	}
	if a.status != "" {
		b.WriteString(a.statusStyle.Render(a.status))
		b.WriteString("\n")
	}
	b.WriteString(a.helpStyle.Render("tab/1-5 switch  enter push  esc pop  h root  p preserve  r reset  c capture  s shoot  y confirm  n wrong  t retry  x cancel  q quit"))
	return b.String()
}

func renderPath(tab schema.TabID, path []schema.Destination) string {
	parts := []string{string(tab)}
	for _, dest := range path {
		label := string(dest.Kind)
		if dest.Ref != "" {
			label += ":" + dest.Ref
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " > ")
}

func renderCapture(session schema.CaptureSnapshot) string {
	lines := []string{fmt.Sprintf("capture %s  state %s", shortID(session.SessionID), session.State)}
	if session.Subject != nil {
		lines = append(lines, "subject: "+session.Subject.Title())
	}
	if session.State == schema.CaptureReviewing && !session.Reviewable {
		lines = append(lines, "reviewing...")
	}
	for _, rejected := range session.Rejected {
		lines = append(lines, "not: "+rejected.Title())
	}
	if session.Outcome != schema.OutcomeNone {
		lines = append(lines, "outcome: "+string(session.Outcome))
	}
	return strings.Join(lines, "\n")
}

func shortID(id schema.SessionID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

func samplePhoto() schema.Image {
	return schema.Image{
		Data:        []byte(fmt.Sprintf("tui-photo-%d", time.Now().UnixNano())),
		Width:       1080,
		Height:      1920,
		ContentType: "image/jpeg",
	}
}
