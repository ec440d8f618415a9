package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/mediawatch/internal/media"
)

var socialColumns = []string{
	"id", "client_id", "platform", "post_id", "url", "author", "author_name", "content", "posted_at",
	"likes", "comments", "shares", "views", "source_type", "source_value", "is_legacy", "created_at",
	"comments_extracted_at",
}

// SocialStore implements media.SocialStore.
type SocialStore struct {
	db    DB
	ids   media.IDGenerator
	clock media.Clock
}

// NewSocialStore wraps db.
func NewSocialStore(db DB, ids media.IDGenerator, clock media.Clock) *SocialStore {
	return &SocialStore{db: db, ids: ids, clock: clock}
}

// Create inserts a social post. A post already stored for the platform yields
// media.ErrDuplicate.
func (s *SocialStore) Create(ctx context.Context, m media.SocialMention) (media.SocialMention, error) {
	if m.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return media.SocialMention{}, fmt.Errorf("generate social id: %w", err)
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now()
	}
	query, args, err := psql.Insert("social_mentions").
		Columns(socialColumns...).
		Values(m.ID, m.ClientID, string(m.Platform), m.PostID, m.URL, m.Author, m.AuthorName, m.Content,
			m.PostedAt, m.Likes, m.Comments, m.Shares, m.Views, string(m.SourceType), m.SourceValue,
			m.IsLegacy, m.CreatedAt, m.CommentsExtractedAt).
		ToSql()
	if err != nil {
		return media.SocialMention{}, fmt.Errorf("build social insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return media.SocialMention{}, fmt.Errorf("insert social mention: %w", mapErr(err))
	}
	return m, nil
}

// UpdateEngagement refreshes the counters of a stored post.
func (s *SocialStore) UpdateEngagement(
	ctx context.Context,
	platform media.Platform,
	postID string,
	likes, comments, shares, views int,
) error {
	query, args, err := psql.Update("social_mentions").
		Set("likes", likes).
		Set("comments", comments).
		Set("shares", shares).
		Set("views", views).
		Where(sq.Eq{"platform": string(platform), "post_id": postID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build engagement update: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update engagement %s/%s: %w", platform, postID, err)
	}
	return nil
}

// Get loads one social post.
func (s *SocialStore) Get(ctx context.Context, id string) (media.SocialMention, error) {
	query, args, err := psql.Select(socialColumns...).From("social_mentions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return media.SocialMention{}, fmt.Errorf("build social query: %w", err)
	}
	var (
		m          media.SocialMention
		platform   string
		sourceType string
	)
	err = s.db.QueryRow(ctx, query, args...).Scan(
		&m.ID, &m.ClientID, &platform, &m.PostID, &m.URL, &m.Author, &m.AuthorName, &m.Content,
		&m.PostedAt, &m.Likes, &m.Comments, &m.Shares, &m.Views, &sourceType, &m.SourceValue,
		&m.IsLegacy, &m.CreatedAt, &m.CommentsExtractedAt,
	)
	if err != nil {
		return media.SocialMention{}, fmt.Errorf("get social mention %s: %w", id, mapErr(err))
	}
	m.Platform = media.Platform(platform)
	m.SourceType = media.SocialSourceType(sourceType)
	return m, nil
}

// SaveComments replaces the stored comments of a post and stamps the
// extraction time, atomically.
func (s *SocialStore) SaveComments(
	ctx context.Context,
	mentionID string,
	comments []media.SocialComment,
	at time.Time,
) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin comments tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM social_comments WHERE social_mention_id = $1`, mentionID); err != nil {
		return fmt.Errorf("clear comments for %s: %w", mentionID, err)
	}
	if len(comments) > 0 {
		b := psql.Insert("social_comments").
			Columns("id", "social_mention_id", "author", "author_name", "text", "likes", "replies", "posted_at")
		for _, c := range comments {
			if c.ID == "" {
				if c.ID, err = s.ids.NewID(); err != nil {
					return fmt.Errorf("generate comment id: %w", err)
				}
			}
			b = b.Values(c.ID, mentionID, c.Author, c.AuthorName, c.Text, c.Likes, c.Replies, c.PostedAt)
		}
		query, args, buildErr := b.ToSql()
		if buildErr != nil {
			err = buildErr
			return fmt.Errorf("build comments insert: %w", err)
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert comments for %s: %w", mentionID, err)
		}
	}
	tag, err := tx.Exec(ctx, `UPDATE social_mentions SET comments_extracted_at = $1 WHERE id = $2`, at, mentionID)
	if err != nil {
		return fmt.Errorf("stamp comments for %s: %w", mentionID, err)
	}
	if tag.RowsAffected() == 0 {
		err = media.ErrNotFound
		return fmt.Errorf("stamp comments for %s: %w", mentionID, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit comments for %s: %w", mentionID, err)
	}
	return nil
}

// ArchiveBefore flags posts older than cutoff as legacy.
func (s *SocialStore) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Update("social_mentions").
		Set("is_legacy", true).
		Where(sq.Lt{"COALESCE(posted_at, created_at)": cutoff}).
		Where(sq.Eq{"is_legacy": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build social archive: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("archive social mentions: %w", err)
	}
	return tag.RowsAffected(), nil
}
