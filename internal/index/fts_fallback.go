//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"strings"
)

// Without FTS5 the annotations table is scanned with LIKE.
func initFTS(_ *sql.DB) error { return nil }

func ftsUpsert(_ *sql.Tx, _, _, _ string, _ []string) error { return nil }

func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// textSearch requires every term to appear in the text, the quote or the
// tags, newest first.
func (db *DB) textSearch(ctx context.Context, sq searchQuery, limit int) (*sql.Rows, error) {
	where, args := sq.filters()
	for _, t := range sq.terms {
		where = append(where, `(a.text LIKE ? ESCAPE '\' OR a.quote LIKE ? ESCAPE '\' OR a.tags LIKE ? ESCAPE '\')`)
		p := likePattern(t)
		args = append(args, p, p, p)
	}
	q := `SELECT a.id, a.uri, a.kind, a.pubkey, a.created_at, ` + plainSnippet + `
		FROM annotations a
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY a.created_at DESC, a.id
		LIMIT ?`
	return db.conn.QueryContext(ctx, q, append(args, limit)...)
}
