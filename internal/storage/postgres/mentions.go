package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/mediawatch/internal/media"
)

var mentionFields = []string{
	"id", "article_id", "client_id", "keyword_matched", "snippet", "is_legacy", "published_at",
	"created_at", "sentiment", "relevance", "urgency", "ai_summary", "ai_action",
	"client_notified", "notified_at",
}

func mentionColumns(prefix string) []string {
	out := make([]string, len(mentionFields))
	for i, f := range mentionFields {
		out[i] = prefix + f
	}
	return out
}

// MentionStore implements media.MentionStore.
type MentionStore struct {
	db    DB
	ids   media.IDGenerator
	clock media.Clock
}

// NewMentionStore wraps db.
func NewMentionStore(db DB, ids media.IDGenerator, clock media.Clock) *MentionStore {
	return &MentionStore{db: db, ids: ids, clock: clock}
}

// Create inserts m unless a mention for the same article and client exists.
func (s *MentionStore) Create(ctx context.Context, m media.Mention) (media.Mention, error) {
	if m.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return media.Mention{}, fmt.Errorf("generate mention id: %w", err)
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now()
	}
	query, args, err := psql.Insert("mentions").
		Columns("id", "article_id", "client_id", "keyword_matched", "snippet", "is_legacy",
			"published_at", "created_at", "sentiment", "relevance").
		Values(m.ID, m.ArticleID, m.ClientID, m.KeywordMatched, m.Snippet, m.IsLegacy,
			m.PublishedAt, m.CreatedAt, nullString(string(m.Sentiment)), nullInt(m.Relevance)).
		Suffix("ON CONFLICT (article_id, client_id) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return media.Mention{}, fmt.Errorf("build mention insert: %w", err)
	}
	var id string
	err = s.db.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return media.Mention{}, fmt.Errorf("mention %s/%s: %w", m.ArticleID, m.ClientID, media.ErrDuplicate)
	}
	if err != nil {
		return media.Mention{}, fmt.Errorf("insert mention: %w", mapErr(err))
	}
	return m, nil
}

// Exists reports whether the article is already linked to the client.
func (s *MentionStore) Exists(ctx context.Context, articleID, clientID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mentions WHERE article_id = $1 AND client_id = $2)`,
		articleID, clientID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("mention exists: %w", err)
	}
	return ok, nil
}

// GetDetail loads a mention with its article and client.
func (s *MentionStore) GetDetail(ctx context.Context, id string) (media.MentionDetail, error) {
	cols := mentionColumns("m.")
	cols = append(cols, "a.id", "a.url", "a.title", "a.source", "a.content", "a.content_hash", "a.published_at", "a.created_at")
	cols = append(cols, clientColumns("c.")...)
	query, args, err := psql.Select(cols...).
		From("mentions m").
		Join("articles a ON a.id = m.article_id").
		Join("clients c ON c.id = m.client_id").
		Where(sq.Eq{"m.id": id}).
		ToSql()
	if err != nil {
		return media.MentionDetail{}, fmt.Errorf("build mention detail query: %w", err)
	}
	var (
		d       media.MentionDetail
		m       mentionRow
		content *string
		hash    *string
	)
	a := &d.Article
	prefix := append(m.dest(),
		&a.ID, &a.URL, &a.Title, &a.Source, &content, &hash, &a.PublishedAt, &a.CreatedAt)
	c, err := scanClient(prefixedRow{rows: s.db.QueryRow(ctx, query, args...), prefix: prefix})
	if err != nil {
		return media.MentionDetail{}, fmt.Errorf("get mention %s: %w", id, mapErr(err))
	}
	d.Mention = m.mention()
	a.Content = derefString(content)
	a.ContentHash = derefString(hash)
	d.Client = c
	return d, nil
}

// UpdateAnalysis stores the AI verdict and derived urgency.
func (s *MentionStore) UpdateAnalysis(ctx context.Context, id string, a media.Analysis, urgency media.Urgency) error {
	query, args, err := psql.Update("mentions").
		Set("sentiment", string(a.Sentiment)).
		Set("relevance", a.Relevance).
		Set("urgency", string(urgency)).
		Set("ai_summary", a.Summary).
		Set("ai_action", a.SuggestedAction).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build analysis update: %w", err)
	}
	return s.execOne(ctx, "update analysis", id, query, args)
}

// MarkNotified records that the client was alerted.
func (s *MentionStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	query, args, err := psql.Update("mentions").
		Set("client_notified", true).
		Set("notified_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build notified update: %w", err)
	}
	return s.execOne(ctx, "mark notified", id, query, args)
}

func (s *MentionStore) execOne(ctx context.Context, op, id, query string, args []any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, id, media.ErrNotFound)
	}
	return nil
}

// LatestCreatedAt returns the creation time of the newest mention, or nil when
// there are none.
func (s *MentionStore) LatestCreatedAt(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	if err := s.db.QueryRow(ctx, `SELECT max(created_at) FROM mentions`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("latest mention: %w", err)
	}
	return latest, nil
}

// DailyCounts returns one count per UTC day for the trailing window ending
// today, oldest first.
func (s *MentionStore) DailyCounts(ctx context.Context, clientID string, days int, now time.Time) ([]int, error) {
	if days <= 0 {
		return nil, nil
	}
	today := now.UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	query, args, err := psql.Select("date_trunc('day', created_at AT TIME ZONE 'UTC') AS day", "count(*)").
		From("mentions").
		Where(sq.Eq{"client_id": clientID}).
		Where(sq.GtOrEq{"created_at": start}).
		GroupBy("day").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build daily counts: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	defer rows.Close()
	counts := make([]int, days)
	for rows.Next() {
		var (
			day time.Time
			n   int
		)
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		idx := int(day.UTC().Truncate(24*time.Hour).Sub(start) / (24 * time.Hour))
		if idx >= 0 && idx < days {
			counts[idx] += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily counts: %w", err)
	}
	return counts, nil
}

// ArchiveBefore flags as legacy every live mention whose publication date,
// or creation date when unknown, predates cutoff.
func (s *MentionStore) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Update("mentions").
		Set("is_legacy", true).
		Where(sq.Lt{"COALESCE(published_at, created_at)": cutoff}).
		Where(sq.Eq{"is_legacy": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build mention archive: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("archive mentions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// mentionRow holds the nullable analysis columns of a mention.
type mentionRow struct {
	m         media.Mention
	sentiment *string
	relevance *int
	urgency   *string
	summary   *string
	action    *string
}

func (r *mentionRow) dest() []any {
	m := &r.m
	return []any{
		&m.ID, &m.ArticleID, &m.ClientID, &m.KeywordMatched, &m.Snippet, &m.IsLegacy, &m.PublishedAt,
		&m.CreatedAt, &r.sentiment, &r.relevance, &r.urgency, &r.summary, &r.action,
		&m.ClientNotified, &m.NotifiedAt,
	}
}

func (r *mentionRow) mention() media.Mention {
	m := r.m
	m.Sentiment = media.Sentiment(derefString(r.sentiment))
	if r.relevance != nil {
		m.Relevance = *r.relevance
	}
	m.Urgency = media.Urgency(derefString(r.urgency))
	m.AISummary = derefString(r.summary)
	m.AIAction = derefString(r.action)
	return m
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
