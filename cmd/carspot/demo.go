package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/carspot"
	"pkt.systems/carspot/core"
	"pkt.systems/carspot/internal/eventbus"
	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

type demoOptions struct {
	StateDir    string
	ReviewDelay time.Duration
	Timeout     time.Duration
}

func newDemoCmd() *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through navigation and a capture on a throwaway service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.StateDir == "" {
				dir, err := os.MkdirTemp("", "carspot-demo-")
				if err != nil {
					return err
				}
				defer func() { _ = os.RemoveAll(dir) }()
				opts.StateDir = dir
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.StateDir, "state", "", "state directory (default: temporary)")
	cmd.Flags().DurationVar(&opts.ReviewDelay, "review-delay", 300*time.Millisecond, "review delay before confirm is accepted")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall demo timeout")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, opts demoOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	server, err := carspot.New(carspot.ServerConfig{
		Service: schema.ServiceConfig{
			StateDir:    opts.StateDir,
			ReviewDelay: opts.ReviewDelay,
		},
		Identify: carspot.IdentifyConfig{Enabled: true},
		Cards:    carspot.CardsConfig{DBPath: filepath.Join(opts.StateDir, "cards.db")},
	}, carspot.ServerDeps{ServiceDeps: core.ServiceDeps{Logger: pslog.Ctx(ctx)}})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = server.Stop(context.Background()) }()

	var observed atomic.Int64
	events, unsubscribe := server.Bus().Subscribe(eventbus.Filter{})
	defer unsubscribe()
	go func() {
		for range events {
			observed.Add(1)
		}
	}()

	svc := server.Service()
	say := func(format string, args ...any) {
		_, _ = fmt.Fprintf(out, format+"\n", args...)
	}

	say("== navigation")
	for _, ref := range []string{"page-1", "page-2"} {
		resp, err := svc.Push(ctx, schema.PushRequest{
			Tab:         schema.TabHome,
			Destination: schema.Destination{Kind: schema.DestinationCollection, Ref: ref},
		})
		if err != nil {
			return err
		}
		say("push home %s -> depth %d", ref, len(resp.Tab.Path))
	}
	if _, err := svc.Push(ctx, schema.PushRequest{
		Tab:         schema.TabShop,
		Destination: schema.Destination{Kind: schema.DestinationListing, Ref: "sku-42"},
	}); err != nil {
		return err
	}
	if _, err := svc.SetPreserved(ctx, schema.PreserveRequest{Tab: schema.TabShop, Preserve: true}); err != nil {
		return err
	}
	say("preserve shop")
	reset, err := svc.TriggerReset(ctx, schema.TriggerResetRequest{})
	if err != nil {
		return err
	}
	say("reset #%d", reset.Trigger)
	for _, tab := range reset.Tabs {
		say("  %-12s depth %d preserved %t", tab.ID, len(tab.Path), tab.Preserved)
	}

	say("== capture")
	started, err := svc.StartCapture(ctx, schema.StartCaptureRequest{})
	if err != nil {
		return err
	}
	id := started.Session.SessionID
	say("session %s %s", id, started.Session.State)
	if _, err := svc.SubmitPhoto(ctx, schema.SubmitPhotoRequest{
		SessionID: id,
		Image: schema.Image{
			Data:        []byte("demo-photo"),
			Width:       1080,
			Height:      1920,
			ContentType: "image/jpeg",
		},
	}); err != nil {
		return err
	}
	first, err := waitForCapture(ctx, svc, id, func(s schema.CaptureSnapshot) bool {
		return s.State == schema.CaptureReviewing
	})
	if err != nil {
		return err
	}
	say("identified %s", first.Subject.Title())
	if _, err := svc.ConfirmCapture(ctx, schema.ConfirmCaptureRequest{SessionID: id}); err != nil {
		say("early confirm refused: %v", err)
	}
	if _, err := svc.RejectSubject(ctx, schema.RejectSubjectRequest{SessionID: id}); err != nil {
		return err
	}
	say("rejected %s", first.Subject.Title())
	if _, err := svc.StartCapture(ctx, schema.StartCaptureRequest{SessionID: id, Retry: true}); err != nil {
		return err
	}
	second, err := waitForCapture(ctx, svc, id, func(s schema.CaptureSnapshot) bool {
		return s.State == schema.CaptureReviewing && s.Reviewable
	})
	if err != nil {
		return err
	}
	say("retry identified %s", second.Subject.Title())
	confirmed, err := svc.ConfirmCapture(ctx, schema.ConfirmCaptureRequest{SessionID: id})
	if err != nil {
		return err
	}
	say("confirmed %s (%s)", confirmed.Artifact.Subject.Title(), confirmed.Session.Outcome)

	card, err := waitForCard(ctx, svc, id)
	if err != nil {
		return err
	}
	say("saved card %s for %s", card.ID, card.Subject.Title())
	say("events observed: %d", observed.Load())
	return nil
}

func waitForCapture(ctx context.Context, svc core.Service, id schema.SessionID, done func(schema.CaptureSnapshot) bool) (schema.CaptureSnapshot, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := svc.GetCapture(ctx, schema.GetCaptureRequest{SessionID: id})
		if err != nil {
			return schema.CaptureSnapshot{}, err
		}
		if done(resp.Session) {
			return resp.Session, nil
		}
		if resp.Session.State == schema.CaptureCompleted {
			return resp.Session, fmt.Errorf("capture ended early: %s %s", resp.Session.Outcome, resp.Session.FailedReason)
		}
		select {
		case <-ctx.Done():
			return schema.CaptureSnapshot{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func waitForCard(ctx context.Context, svc core.Service, id schema.SessionID) (schema.Card, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := svc.ListCards(ctx, schema.ListCardsRequest{})
		if err != nil {
			return schema.Card{}, err
		}
		for _, card := range resp.Cards {
			if card.SessionID == id {
				return card, nil
			}
		}
		select {
		case <-ctx.Done():
			return schema.Card{}, errors.New("card was not saved before the demo timed out")
		case <-ticker.C:
		}
	}
}
