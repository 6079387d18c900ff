package schema

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	StateDir string
	// Tabs limits the navigator to a subset of AllTabs. Empty means all.
	Tabs               []TabID
	ReviewDelay        time.Duration
	CaptureOrientation Orientation
	// CaptureTab is preserved while a capture session is live.
	CaptureTab TabID
	// StrictLocks makes out-of-order orientation releases fail instead of being tolerated.
	StrictLocks bool
	// MaxSessions bounds concurrently live capture sessions.
	MaxSessions int
}

// DefaultReviewDelay is how long a result stays on screen before it can be confirmed.
const DefaultReviewDelay = 1500 * time.Millisecond

// DefaultMaxSessions bounds live capture sessions per service.
const DefaultMaxSessions = 64

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".carspot", "state")
	}
	if len(cfg.Tabs) == 0 {
		cfg.Tabs = append([]TabID(nil), AllTabs...)
	}
	seen := make(map[TabID]struct{}, len(cfg.Tabs))
	for _, tab := range cfg.Tabs {
		if !tab.Valid() {
			return ServiceConfig{}, ErrInvalidTab
		}
		if _, dup := seen[tab]; dup {
			return ServiceConfig{}, errors.New("duplicate tab in service tabs")
		}
		seen[tab] = struct{}{}
	}
	if cfg.ReviewDelay <= 0 {
		cfg.ReviewDelay = DefaultReviewDelay
	}
	if cfg.CaptureOrientation == "" {
		cfg.CaptureOrientation = OrientationPortrait
	}
	if _, ok := ParseOrientation(string(cfg.CaptureOrientation)); !ok {
		return ServiceConfig{}, errors.New("invalid capture orientation")
	}
	if cfg.CaptureTab == "" {
		cfg.CaptureTab = TabGarage
	}
	if _, ok := seen[cfg.CaptureTab]; !ok {
		return ServiceConfig{}, errors.New("capture tab must be one of the service tabs")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return cfg, nil
}
