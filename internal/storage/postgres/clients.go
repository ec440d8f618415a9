package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/mediawatch/internal/media"
)

var clientFields = []string{
	"id", "org_id", "name", "description", "industry", "active", "telegram_group_id",
	"weekly_grounding_enabled", "weekly_grounding_day", "grounding_article_count",
	"min_daily_mentions", "consecutive_days_threshold", "last_grounding_at",
	"last_grounding_result", "social_config",
}

func clientColumns(prefix string) []string {
	out := make([]string, len(clientFields))
	for i, f := range clientFields {
		out[i] = prefix + f
	}
	return out
}

// ClientStore implements media.ClientStore.
type ClientStore struct {
	db DB
}

// NewClientStore wraps db.
func NewClientStore(db DB) *ClientStore {
	return &ClientStore{db: db}
}

// Get loads one client.
func (s *ClientStore) Get(ctx context.Context, id string) (media.Client, error) {
	query, args, err := psql.Select(clientColumns("")...).From("clients").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return media.Client{}, fmt.Errorf("build client query: %w", err)
	}
	c, err := scanClient(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return media.Client{}, fmt.Errorf("get client %s: %w", id, mapErr(err))
	}
	return c, nil
}

// ListActive returns active clients ordered by name.
func (s *ClientStore) ListActive(ctx context.Context) ([]media.Client, error) {
	query, args, err := psql.Select(clientColumns("")...).From("clients").
		Where(sq.Eq{"active": true}).OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build client list: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()
	var out []media.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return out, nil
}

// UpdateGrounding stores the last grounding timestamp and outcome.
func (s *ClientStore) UpdateGrounding(ctx context.Context, id string, at time.Time, result media.GroundingResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode grounding result: %w", err)
	}
	query, args, err := psql.Update("clients").
		Set("last_grounding_at", at).
		Set("last_grounding_result", raw).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build grounding update: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update grounding for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update grounding for %s: %w", id, media.ErrNotFound)
	}
	return nil
}

func scanClient(row pgx.Row) (media.Client, error) {
	var (
		c      media.Client
		result []byte
		social []byte
	)
	err := row.Scan(
		&c.ID, &c.OrgID, &c.Name, &c.Description, &c.Industry, &c.Active, &c.TelegramGroupID,
		&c.WeeklyGroundingEnabled, &c.WeeklyGroundingDay, &c.GroundingArticleCount,
		&c.MinDailyMentions, &c.ConsecutiveDaysThreshold, &c.LastGroundingAt,
		&result, &social,
	)
	if err != nil {
		return media.Client{}, err
	}
	if len(result) > 0 {
		var r media.GroundingResult
		if err := json.Unmarshal(result, &r); err != nil {
			return media.Client{}, fmt.Errorf("decode grounding result: %w", err)
		}
		c.LastGroundingResult = &r
	}
	if len(social) > 0 {
		if err := json.Unmarshal(social, &c.Social); err != nil {
			return media.Client{}, fmt.Errorf("decode social config: %w", err)
		}
	}
	return c, nil
}
