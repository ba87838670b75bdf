//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS annotations_fts USING fts5(
			id UNINDEXED,
			text,
			quote,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, text, quote string, tags []string) error {
	if _, err := tx.Exec(`DELETE FROM annotations_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: clear fts %s: %w", id, err)
	}
	if _, err := tx.Exec(`INSERT INTO annotations_fts (id, text, quote, tags) VALUES (?, ?, ?, ?)`,
		id, text, quote, strings.Join(tags, " ")); err != nil {
		return fmt.Errorf("index: upsert fts %s: %w", id, err)
	}
	return nil
}

// matchExpr quotes every term so user input is never read as FTS5 syntax.
// Terms are ANDed.
func matchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

func (db *DB) textSearch(ctx context.Context, sq searchQuery, limit int) (*sql.Rows, error) {
	where, args := sq.filters()
	where = append([]string{`annotations_fts MATCH ?`}, where...)
	args = append([]any{matchExpr(sq.terms)}, args...)

	q := `SELECT a.id, a.uri, a.kind, a.pubkey, a.created_at,
		       snippet(annotations_fts, -1, '<b>', '</b>', '...', 32)
		FROM annotations_fts
		JOIN annotations a ON a.id = annotations_fts.id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY rank
		LIMIT ?`
	return db.conn.QueryContext(ctx, q, append(args, limit)...)
}
