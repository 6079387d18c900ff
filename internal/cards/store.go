// Package cards stores confirmed capture artifacts as collectible cards in SQLite.
package cards

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"

	_ "modernc.org/sqlite"
)

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 100

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed card store.
type Store struct {
	conn *sql.DB
	path string
	log  pslog.Logger
	now  func() time.Time
}

// Open opens the card database at path, creating parent directories, and
// applies pending migrations.
func Open(path string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("card database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create card db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open card db: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &Store{conn: conn, path: path, log: logger.With("card_db", path), now: time.Now}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

const migrationV1Cards = `
CREATE TABLE cards (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	make TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	generation TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	image BLOB NOT NULL,
	image_sha256 TEXT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX idx_cards_kind_created ON cards(kind, created_at);
`

func (s *Store) migrate() error {
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	var current int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Cards},
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
		s.log.Debug("cards migration applied", "version", m.version)
	}
	return nil
}

// Save stores a confirmed artifact. Saving the same session twice returns the
// card stored the first time.
func (s *Store) Save(ctx context.Context, artifact schema.Artifact) (schema.Card, error) {
	if artifact.SessionID == "" {
		return schema.Card{}, schema.ErrInvalidRequest
	}
	if err := schema.ValidateImage(artifact.Image); err != nil {
		return schema.Card{}, err
	}
	subject, err := schema.NormalizeSubject(artifact.Subject)
	if err != nil {
		return schema.Card{}, err
	}
	sum := sha256.Sum256(artifact.Image.Data)
	created := artifact.CapturedAt
	if created.IsZero() {
		created = s.now()
	}
	card := schema.Card{
		ID:          schema.CardID(uuid.NewString()),
		SessionID:   artifact.SessionID,
		Subject:     subject,
		ImageSHA256: hex.EncodeToString(sum[:]),
		Width:       artifact.Image.Width,
		Height:      artifact.Image.Height,
		ContentType: artifact.Image.ContentType,
		ImageBytes:  len(artifact.Image.Data),
		CreatedAt:   created.UTC(),
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO cards (id, session_id, kind, make, model, generation, first_name, last_name,
			confidence, image, image_sha256, width, height, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		string(card.ID), string(card.SessionID), string(subject.Kind), subject.Make, subject.Model,
		subject.Generation, subject.FirstName, subject.LastName, subject.Confidence,
		artifact.Image.Data, card.ImageSHA256, card.Width, card.Height, card.ContentType,
		card.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return schema.Card{}, fmt.Errorf("insert card: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		s.log.Debug("cards save duplicate session", "session", card.SessionID)
		return s.bySession(ctx, card.SessionID)
	}
	s.log.Debug("cards save ok", "card", card.ID, "session", card.SessionID, "bytes", card.ImageBytes)
	return card, nil
}

const cardColumns = `id, session_id, kind, make, model, generation, first_name, last_name,
	confidence, image_sha256, width, height, content_type, LENGTH(image), created_at`

// List returns cards newest first, optionally filtered by subject kind.
func (s *Store) List(ctx context.Context, kind schema.SubjectKind, limit int) ([]schema.Card, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.conn.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY created_at DESC, id LIMIT ?`, limit)
	} else {
		rows, err = s.conn.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE kind = ? ORDER BY created_at DESC, id LIMIT ?`, string(kind), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()
	cards := []schema.Card{}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return cards, nil
}

// Get returns one card.
func (s *Store) Get(ctx context.Context, id schema.CardID) (schema.Card, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, string(id))
	return scanRow(row)
}

// Image returns a card's photo bytes and content type.
func (s *Store) Image(ctx context.Context, id schema.CardID) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	err := s.conn.QueryRowContext(ctx, `SELECT image, content_type FROM cards WHERE id = ?`, string(id)).Scan(&data, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", schema.ErrCardNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("load card image: %w", err)
	}
	return data, contentType, nil
}

func (s *Store) bySession(ctx context.Context, id schema.SessionID) (schema.Card, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE session_id = ?`, string(id))
	return scanRow(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row *sql.Row) (schema.Card, error) {
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Card{}, schema.ErrCardNotFound
	}
	return card, err
}

func scanCard(row scanner) (schema.Card, error) {
	var (
		card    schema.Card
		id      string
		session string
		kind    string
		created string
	)
	err := row.Scan(&id, &session, &kind, &card.Subject.Make, &card.Subject.Model, &card.Subject.Generation,
		&card.Subject.FirstName, &card.Subject.LastName, &card.Subject.Confidence, &card.ImageSHA256,
		&card.Width, &card.Height, &card.ContentType, &card.ImageBytes, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schema.Card{}, err
		}
		return schema.Card{}, fmt.Errorf("scan card: %w", err)
	}
	card.ID = schema.CardID(id)
	card.SessionID = schema.SessionID(session)
	card.Subject.Kind = schema.SubjectKind(kind)
	card.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return schema.Card{}, fmt.Errorf("parse card time: %w", err)
	}
	return card, nil
}
