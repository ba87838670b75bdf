package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
)

// Upsert inserts or replaces annotations and their FTS entries within one
// transaction. Drafts (no id) are rejected and nothing is written.
func (db *DB) Upsert(ctx context.Context, anns []models.Annotation) error {
	for i := range anns {
		if !anns[i].IsSaved() {
			return fmt.Errorf("index: upsert: %w", apperr.ErrDraftNotSaved)
		}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotations (id, uri, uri_key, root_id, parent_id, kind, pubkey, text, quote, tags, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uri        = excluded.uri,
			uri_key    = excluded.uri_key,
			root_id    = excluded.root_id,
			parent_id  = excluded.parent_id,
			kind       = excluded.kind,
			pubkey     = excluded.pubkey,
			text       = excluded.text,
			quote      = excluded.quote,
			tags       = excluded.tags,
			data       = excluded.data,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("index: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range anns {
		a := &anns[i]
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("index: encode %s: %w", a.ID, err)
		}
		tagsJSON, _ := json.Marshal(a.Tags)
		kind := 0
		if a.Event != nil {
			kind = a.Event.Kind
		}
		quote := quoteOf(a)
		key, _ := protocol.NormalizeURL(a.URI)

		if _, err := stmt.ExecContext(ctx, a.ID, a.URI, key, a.Root(), a.Parent(), kind, a.User,
			a.Text, quote, string(tagsJSON), string(data), a.Created, a.Updated); err != nil {
			return fmt.Errorf("index: upsert %s: %w", a.ID, err)
		}
		if err := ftsUpsert(tx, a.ID, a.Text, quote, a.Tags); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FindByID returns the annotation with id, or (nil, nil) when unknown.
func (db *DB) FindByID(ctx context.Context, id string) (*models.Annotation, error) {
	var data string
	err := db.conn.QueryRowContext(ctx, `SELECT data FROM annotations WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: find %s: %w", id, err)
	}
	var a models.Annotation
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("index: decode %s: %w", id, err)
	}
	return &a, nil
}

// ListByURI returns the annotations anchored to uri, oldest first. URIs are
// compared in normalized form.
func (db *DB) ListByURI(ctx context.Context, uri string) ([]models.Annotation, error) {
	key, _ := protocol.NormalizeURL(uri)
	return db.query(ctx, `SELECT data FROM annotations WHERE uri_key = ? ORDER BY created_at, id`, key)
}

// Thread returns a root annotation and every reply below it, oldest first.
func (db *DB) Thread(ctx context.Context, rootID string) ([]models.Annotation, error) {
	return db.query(ctx, `SELECT data FROM annotations WHERE root_id = ? ORDER BY created_at, id`, rootID)
}

// Count returns the number of stored annotations.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM annotations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

// RecordRelays remembers that the annotation was seen on relays.
func (db *DB) RecordRelays(ctx context.Context, id string, relays []string) error {
	if len(relays) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO annotation_relays (id, relay) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare relay insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range relays {
		if _, err := stmt.ExecContext(ctx, id, r); err != nil {
			return fmt.Errorf("index: insert relay: %w", err)
		}
	}
	return tx.Commit()
}

// SeenOn returns the relays an annotation was delivered by.
func (db *DB) SeenOn(ctx context.Context, id string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT relay FROM annotation_relays WHERE id = ? ORDER BY relay`, id)
	if err != nil {
		return nil, fmt.Errorf("index: seen on: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) query(ctx context.Context, q string, args ...any) ([]models.Annotation, error) {
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	out := []models.Annotation{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a models.Annotation
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("index: decode: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func quoteOf(a *models.Annotation) string {
	for _, s := range a.Selectors() {
		if s.Type == models.TextQuoteSelector {
			return s.Exact
		}
	}
	return ""
}
