package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/media"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type counterIDs struct{ n int }

func (g *counterIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func newDB(now time.Time) *DB {
	return New(&counterIDs{}, fixedClock{now: now})
}

func TestArticleCreateRejectsDuplicateURL(t *testing.T) {
	t.Parallel()
	db := newDB(time.Now())
	ctx := context.Background()

	_, err := db.Articles().Create(ctx, media.Article{URL: "https://a.mx/1", Title: "t"})
	require.NoError(t, err)
	_, err = db.Articles().Create(ctx, media.Article{URL: "https://a.mx/1", Title: "t2"})
	require.ErrorIs(t, err, media.ErrDuplicate)

	ok, err := db.Articles().ExistsByURL(ctx, "https://a.mx/1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMentionUniquePerArticleAndClient(t *testing.T) {
	t.Parallel()
	db := newDB(time.Now())
	ctx := context.Background()
	ms := db.MentionStore()

	_, err := ms.Create(ctx, media.Mention{ArticleID: "a", ClientID: "c"})
	require.NoError(t, err)
	_, err = ms.Create(ctx, media.Mention{ArticleID: "a", ClientID: "c"})
	require.ErrorIs(t, err, media.ErrDuplicate)
	_, err = ms.Create(ctx, media.Mention{ArticleID: "a", ClientID: "d"})
	require.NoError(t, err)
	require.Len(t, db.Mentions(), 2)
}

func TestMentionArchiveUsesPublishedThenCreated(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	db := newDB(now)
	ctx := context.Background()
	ms := db.MentionStore()
	old := now.Add(-72 * time.Hour)
	recent := now.Add(-time.Hour)

	_, err := ms.Create(ctx, media.Mention{ArticleID: "a1", ClientID: "c", PublishedAt: &old, CreatedAt: now})
	require.NoError(t, err)
	_, err = ms.Create(ctx, media.Mention{ArticleID: "a2", ClientID: "c", CreatedAt: old})
	require.NoError(t, err)
	_, err = ms.Create(ctx, media.Mention{ArticleID: "a3", ClientID: "c", PublishedAt: &recent, CreatedAt: old})
	require.NoError(t, err)

	n, err := ms.ArchiveBefore(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = ms.ArchiveBefore(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDailyCounts(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	db := newDB(now)
	ctx := context.Background()
	ms := db.MentionStore()
	for i, at := range []time.Time{now, now.Add(-2 * time.Hour), now.AddDate(0, 0, -2), now.AddDate(0, 0, -9)} {
		_, err := ms.Create(ctx, media.Mention{ArticleID: fmt.Sprint(i), ClientID: "c", CreatedAt: at})
		require.NoError(t, err)
	}

	counts, err := ms.DailyCounts(ctx, "c", 3, now)
	require.NoError(t, err)
	require.Equal(t, []int{1, 0, 2}, counts)
}

func TestSourceDeactivation(t *testing.T) {
	t.Parallel()
	db := newDB(time.Now())
	ctx := context.Background()
	db.PutSource(media.RssSource{ID: "s1", Name: "A", Active: true, ErrorCount: 9})
	db.PutSource(media.RssSource{ID: "s2", Name: "B", Active: true, ErrorCount: 10})

	n, err := db.Sources().DeactivateFailing(ctx, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	active, err := db.Sources().ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "s1", active[0].ID)
}

func TestKeywordsSkipInactiveClients(t *testing.T) {
	t.Parallel()
	db := newDB(time.Now())
	db.PutClient(media.Client{ID: "c1", Name: "Acme", Active: true})
	db.PutClient(media.Client{ID: "c2", Name: "Beta", Active: false})
	db.PutKeyword(media.Keyword{ID: "k1", Word: "Acme", ClientID: "c1", Active: true})
	db.PutKeyword(media.Keyword{ID: "k2", Word: "Beta", ClientID: "c2", Active: true})
	db.PutKeyword(media.Keyword{ID: "k3", Word: "Old", ClientID: "c1", Active: false})

	kws, err := db.Keywords().ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, kws, 1)
	require.Equal(t, "Acme", kws[0].Client.Name)
}

func TestSocialSaveCommentsStampsPost(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	db := newDB(now)
	ctx := context.Background()
	m, err := db.Social().Create(ctx, media.SocialMention{Platform: media.PlatformTikTok, PostID: "99"})
	require.NoError(t, err)
	_, err = db.Social().Create(ctx, media.SocialMention{Platform: media.PlatformTikTok, PostID: "99"})
	require.ErrorIs(t, err, media.ErrDuplicate)

	require.NoError(t, db.Social().SaveComments(ctx, m.ID, []media.SocialComment{{Text: "hola"}}, now))
	got, err := db.Social().Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CommentsExtractedAt)
	require.Len(t, db.Comments(m.ID), 1)
}
