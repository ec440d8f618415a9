package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/mediawatch/internal/media"
)

var articleColumns = []string{"id", "url", "title", "source", "content", "content_hash", "published_at", "created_at"}

// ArticleStore implements media.ArticleStore.
type ArticleStore struct {
	db    DB
	ids   media.IDGenerator
	clock media.Clock
}

// NewArticleStore wraps db.
func NewArticleStore(db DB, ids media.IDGenerator, clock media.Clock) *ArticleStore {
	return &ArticleStore{db: db, ids: ids, clock: clock}
}

// ExistsByURL reports whether url is stored.
func (s *ArticleStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)`, url).Scan(&ok); err != nil {
		return false, fmt.Errorf("article exists by url: %w", err)
	}
	return ok, nil
}

// ExistsByContentHash reports whether an article with hash is stored.
func (s *ArticleStore) ExistsByContentHash(ctx context.Context, hash string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE content_hash = $1)`, hash).Scan(&ok); err != nil {
		return false, fmt.Errorf("article exists by hash: %w", err)
	}
	return ok, nil
}

// GetByURL loads an article by its unique URL.
func (s *ArticleStore) GetByURL(ctx context.Context, url string) (media.Article, error) {
	query, args, err := psql.Select(articleColumns...).From("articles").Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return media.Article{}, fmt.Errorf("build article query: %w", err)
	}
	a, err := scanArticle(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return media.Article{}, fmt.Errorf("get article: %w", mapErr(err))
	}
	return a, nil
}

// Create inserts article. ID and CreatedAt are assigned when empty.
func (s *ArticleStore) Create(ctx context.Context, a media.Article) (media.Article, error) {
	if a.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return media.Article{}, fmt.Errorf("generate article id: %w", err)
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock.Now()
	}
	query, args, err := psql.Insert("articles").
		Columns(articleColumns...).
		Values(a.ID, a.URL, a.Title, a.Source, nullString(a.Content), nullString(a.ContentHash), a.PublishedAt, a.CreatedAt).
		ToSql()
	if err != nil {
		return media.Article{}, fmt.Errorf("build article insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return media.Article{}, fmt.Errorf("insert article: %w", mapErr(err))
	}
	return a, nil
}

// SearchRecent lists articles since the given time whose title or content
// contains term, newest first.
func (s *ArticleStore) SearchRecent(
	ctx context.Context,
	term string,
	since time.Time,
	exclude []string,
	limit int,
) ([]media.Article, error) {
	pattern := "%" + term + "%"
	b := psql.Select(articleColumns...).From("articles").
		Where(sq.Or{sq.ILike{"title": pattern}, sq.ILike{"content": pattern}}).
		Where(sq.GtOrEq{"COALESCE(published_at, created_at)": since}).
		OrderBy("COALESCE(published_at, created_at) DESC")
	if len(exclude) > 0 {
		b = b.Where(sq.NotEq{"id": exclude})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article search: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer rows.Close()
	var out []media.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

func scanArticle(row pgx.Row) (media.Article, error) {
	var (
		a       media.Article
		content *string
		hash    *string
	)
	if err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &content, &hash, &a.PublishedAt, &a.CreatedAt); err != nil {
		return media.Article{}, err
	}
	a.Content = derefString(content)
	a.ContentHash = derefString(hash)
	return a, nil
}
