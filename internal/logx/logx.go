package logx

import (
	"context"

	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	tabKey contextKey = iota
	sessionKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTab annotates the logger with the tab id if present.
func WithTab(ctx context.Context, tab schema.TabID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if tab != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tab {
			return log
		}
		log = log.With("tab", tab)
	}
	return log
}

// WithSession annotates the logger with the capture session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSubject annotates the logger with identification metadata when available.
func WithSubject(log pslog.Logger, subject *schema.Subject) pslog.Logger {
	if subject == nil {
		return log
	}
	if subject.Kind != "" {
		log = log.With("subject_kind", subject.Kind)
	}
	if title := subject.Title(); title != "" {
		log = log.With("subject", title)
	}
	return log
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tab schema.TabID) context.Context {
	if ctx == nil || tab == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tab)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// CopyContextFields copies tab/session markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if tab, ok := src.Value(tabKey).(schema.TabID); ok && tab != "" {
		dst = ContextWithTab(dst, tab)
	}
	if session, ok := src.Value(sessionKey).(schema.SessionID); ok && session != "" {
		dst = ContextWithSession(dst, session)
	}
	return dst
}
