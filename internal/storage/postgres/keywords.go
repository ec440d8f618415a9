package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// KeywordStore implements media.KeywordStore.
type KeywordStore struct {
	db DB
}

// NewKeywordStore wraps db.
func NewKeywordStore(db DB) *KeywordStore {
	return &KeywordStore{db: db}
}

// ListActive returns every active keyword of an active client.
func (s *KeywordStore) ListActive(ctx context.Context) ([]media.Keyword, error) {
	return s.list(ctx, sq.Eq{"k.active": true, "c.active": true})
}

// ListActiveForClient returns the active keywords of one client.
func (s *KeywordStore) ListActiveForClient(ctx context.Context, clientID string) ([]media.Keyword, error) {
	return s.list(ctx, sq.Eq{"k.active": true, "k.client_id": clientID})
}

func (s *KeywordStore) list(ctx context.Context, where sq.Eq) ([]media.Keyword, error) {
	cols := append([]string{"k.id", "k.word", "k.type", "k.client_id", "k.active"}, clientColumns("c.")...)
	query, args, err := psql.Select(cols...).
		From("keywords k").
		Join("clients c ON c.id = k.client_id").
		Where(where).
		OrderBy("c.name", "k.word").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build keyword query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	clients := make(map[string]*media.Client)
	var out []media.Keyword
	for rows.Next() {
		var (
			k    media.Keyword
			code string
		)
		c, err := scanClient(prefixedRow{rows: rows, prefix: []any{&k.ID, &k.Word, &code, &k.ClientID, &k.Active}})
		if err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		if k.Type, err = media.ParseKeywordType(code); err != nil {
			return nil, fmt.Errorf("keyword %s: %w", k.ID, err)
		}
		if existing, ok := clients[c.ID]; ok {
			k.Client = existing
		} else {
			cc := c
			clients[c.ID] = &cc
			k.Client = &cc
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return out, nil
}

// prefixedRow scans leading columns into prefix before handing the rest to
// the wrapped destination list.
type prefixedRow struct {
	rows   interface{ Scan(dest ...any) error }
	prefix []any
}

func (p prefixedRow) Scan(dest ...any) error {
	return p.rows.Scan(append(append([]any{}, p.prefix...), dest...)...)
}
