package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the chats table using plainto_tsquery and ts_rank, with
// ts_headline for snippets. The fts column is generated from the title
// and the plain-text body column, so the index and the snippets carry
// message text only, matching what the primary index stores.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM chats c
		WHERE c.user_id = $2 AND c.fts @@ plainto_tsquery('english', $1)`,
		q.Text, q.UserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id,
			coalesce(c.payload->>'title', '') AS title,
			ts_headline('english', c.body, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			coalesce(c.payload->>'path', '') AS path
		FROM chats c
		WHERE c.user_id = $2 AND c.fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(c.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, limit, offset),
		q.Text, q.UserID,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Path); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}
