package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// SourceStore implements media.SourceStore.
type SourceStore struct {
	db DB
}

// NewSourceStore wraps db.
func NewSourceStore(db DB) *SourceStore {
	return &SourceStore{db: db}
}

// ListActive returns active feeds, highest tier first.
func (s *SourceStore) ListActive(ctx context.Context) ([]media.RssSource, error) {
	query, args, err := psql.Select("id", "name", "url", "tier", "type", "active", "error_count", "last_fetch").
		From("rss_sources").
		Where(sq.Eq{"active": true}).
		OrderBy("tier", "name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	var out []media.RssSource
	for rows.Next() {
		var src media.RssSource
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.Tier, &src.Type, &src.Active,
			&src.ErrorCount, &src.LastFetch); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// RecordSuccess resets the error counter.
func (s *SourceStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	query, args, err := psql.Update("rss_sources").
		Set("last_fetch", at).
		Set("error_count", 0).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build source success: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record success for %s: %w", id, err)
	}
	return nil
}

// RecordFailure increments the error counter.
func (s *SourceStore) RecordFailure(ctx context.Context, id string) error {
	query, args, err := psql.Update("rss_sources").
		Set("error_count", sq.Expr("error_count + 1")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build source failure: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record failure for %s: %w", id, err)
	}
	return nil
}

// UpdateURL repoints a source.
func (s *SourceStore) UpdateURL(ctx context.Context, id, url string) error {
	query, args, err := psql.Update("rss_sources").Set("url", url).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build source url update: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update url for %s: %w", id, mapErr(err))
	}
	return nil
}

// DeactivateFailing disables active feeds with at least threshold errors.
func (s *SourceStore) DeactivateFailing(ctx context.Context, threshold int) (int64, error) {
	query, args, err := psql.Update("rss_sources").
		Set("active", false).
		Where(sq.Eq{"active": true}).
		Where(sq.GtOrEq{"error_count": threshold}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build source deactivation: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate sources: %w", err)
	}
	return tag.RowsAffected(), nil
}
