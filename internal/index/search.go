package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/starford/margin/internal/protocol"
)

const defaultSearchLimit = 20

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string    `json:"id"`
	URI     string    `json:"uri"`
	Kind    int       `json:"kind"`
	Author  string    `json:"author"`
	Created time.Time `json:"created"`
	Snippet string    `json:"snippet"`
}

// searchQuery is a parsed search string. Words prefixed with # filter by
// hashtag, a uri: word limits hits to one page, the rest is free text.
type searchQuery struct {
	terms []string
	tags  []string
	page  string
}

func parseQuery(q string) searchQuery {
	var sq searchQuery
	for _, w := range strings.Fields(q) {
		switch {
		case strings.HasPrefix(w, "#") && len(w) > 1:
			sq.tags = append(sq.tags, strings.ToLower(w[1:]))
		case strings.HasPrefix(w, "uri:") && len(w) > 4:
			sq.page, _ = protocol.NormalizeURL(w[4:])
		default:
			sq.terms = append(sq.terms, w)
		}
	}
	return sq
}

func (sq searchQuery) empty() bool {
	return len(sq.terms) == 0 && len(sq.tags) == 0 && sq.page == ""
}

// filters renders the hashtag and page constraints against alias a.
func (sq searchQuery) filters() ([]string, []any) {
	var where []string
	var args []any
	for _, t := range sq.tags {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(a.tags) WHERE lower(json_each.value) = ?)`)
		args = append(args, t)
	}
	if sq.page != "" {
		where = append(where, `a.uri_key = ?`)
		args = append(args, sq.page)
	}
	return where, args
}

// Search finds annotations by free text, #hashtag and uri: filters, best
// matches first. An empty query matches nothing.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	sq := parseQuery(query)
	if sq.empty() {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if len(sq.terms) == 0 {
		rows, err = db.filterOnly(ctx, sq, limit)
	} else {
		rows, err = db.textSearch(ctx, sq, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.URI, &r.Kind, &r.Author, &r.Created, &r.Snippet); err != nil {
			return nil, fmt.Errorf("index: search scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// filterOnly serves queries made of hashtags and a page, newest first.
func (db *DB) filterOnly(ctx context.Context, sq searchQuery, limit int) (*sql.Rows, error) {
	where, args := sq.filters()
	q := `SELECT a.id, a.uri, a.kind, a.pubkey, a.created_at, ` + plainSnippet + `
		FROM annotations a
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY a.created_at DESC, a.id
		LIMIT ?`
	return db.conn.QueryContext(ctx, q, append(args, limit)...)
}

// plainSnippet is the start of the note text, or of the quote for
// highlights.
const plainSnippet = `substr(CASE WHEN a.text != '' THEN a.text ELSE a.quote END, 1, 200)`
