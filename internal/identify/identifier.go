package identify

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/carspot/core"
	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// ErrNoCandidates is returned when every catalog subject was excluded.
var ErrNoCandidates = errors.New("no identification candidates left")

// DefaultMaxCandidates bounds the alternates returned on a retry.
const DefaultMaxCandidates = 3

// Options configures a CatalogIdentifier.
type Options struct {
	// CatalogPath is a YAML catalog. Empty uses the built-in catalog.
	CatalogPath string
	// Latency simulates backend processing time per request.
	Latency       time.Duration
	MaxCandidates int
	Logger        pslog.Logger
}

// CatalogIdentifier answers identification requests from a subject catalog.
// The pick is derived from the image hash so the same photo always yields the
// same first answer; rejected subjects are skipped.
type CatalogIdentifier struct {
	mu       sync.RWMutex
	subjects []schema.Subject

	path          string
	latency       time.Duration
	maxCandidates int
	log           pslog.Logger
}

var _ core.Identifier = (*CatalogIdentifier)(nil)

// New constructs an identifier and loads its catalog.
func New(opts Options) (*CatalogIdentifier, error) {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	id := &CatalogIdentifier{
		path:          opts.CatalogPath,
		latency:       opts.Latency,
		maxCandidates: opts.MaxCandidates,
		log:           logger,
	}
	if err := id.Reload(); err != nil {
		return nil, err
	}
	return id, nil
}

// Reload rereads the catalog file. The previous catalog stays active on error.
func (c *CatalogIdentifier) Reload() error {
	catalog := DefaultCatalog()
	if c.path != "" {
		loaded, err := LoadCatalog(c.path)
		if err != nil {
			return err
		}
		catalog = loaded
	}
	c.mu.Lock()
	c.subjects = catalog.Subjects
	c.mu.Unlock()
	c.log.Info("identify catalog loaded", "path", c.path, "subjects", len(catalog.Subjects))
	return nil
}

// Subjects returns a copy of the active catalog.
func (c *CatalogIdentifier) Subjects() []schema.Subject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]schema.Subject(nil), c.subjects...)
}

// Identify picks a subject for the photo. On a retry it returns up to
// MaxCandidates alternates instead of a single subject.
func (c *CatalogIdentifier) Identify(ctx context.Context, req core.IdentifyRequest) (core.IdentifyResult, error) {
	if err := schema.ValidateImage(req.Image); err != nil {
		return core.IdentifyResult{}, err
	}
	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.IdentifyResult{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return core.IdentifyResult{}, err
	}

	excluded := make(map[string]struct{}, len(req.Exclude))
	for _, subject := range req.Exclude {
		excluded[subjectKey(subject)] = struct{}{}
	}
	c.mu.RLock()
	candidates := make([]schema.Subject, 0, len(c.subjects))
	for _, subject := range c.subjects {
		if _, skip := excluded[subjectKey(subject)]; !skip {
			candidates = append(candidates, subject)
		}
	}
	c.mu.RUnlock()
	if len(candidates) == 0 {
		return core.IdentifyResult{}, ErrNoCandidates
	}

	sum := sha256.Sum256(req.Image.Data)
	start := int(binary.BigEndian.Uint64(sum[:8]) % uint64(len(candidates)))
	log := c.log.With("session", req.SessionID, "retry", req.Retry)
	if !req.Retry {
		subject := candidates[start]
		log.Debug("identify pick", "subject", subject.Title())
		return core.IdentifyResult{Subject: &subject}, nil
	}
	n := min(c.maxCandidates, len(candidates))
	alternates := make([]schema.Subject, 0, n)
	for i := 0; i < n; i++ {
		alternates = append(alternates, candidates[(start+i)%len(candidates)])
	}
	log.Debug("identify alternates", "count", len(alternates), "excluded", len(req.Exclude))
	return core.IdentifyResult{Candidates: alternates}, nil
}

// Watch reloads the catalog whenever its file changes, until ctx ends.
// The parent directory is watched so editors that replace the file are seen.
func (c *CatalogIdentifier) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return err
	}
	base := filepath.Base(c.path)
	c.log.Debug("identify watch start", "path", c.path)
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("identify watch stop", "path", c.path)
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := c.Reload(); err != nil {
				c.log.Warn("identify catalog reload failed", "path", c.path, "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("identify watch error", "err", err)
		}
	}
}
