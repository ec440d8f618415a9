// Package memory holds process-local implementations of the media stores for
// development and tests. All views of one DB share a single lock.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// DB is an in-memory database.
type DB struct {
	mu       sync.RWMutex
	ids      media.IDGenerator
	clock    media.Clock
	articles map[string]media.Article
	clients  map[string]media.Client
	keywords map[string]media.Keyword
	mentions map[string]media.Mention
	sources  map[string]media.RssSource
	social   map[string]media.SocialMention
	comments map[string][]media.SocialComment
}

// New returns an empty DB.
func New(ids media.IDGenerator, clock media.Clock) *DB {
	return &DB{
		ids:      ids,
		clock:    clock,
		articles: make(map[string]media.Article),
		clients:  make(map[string]media.Client),
		keywords: make(map[string]media.Keyword),
		mentions: make(map[string]media.Mention),
		sources:  make(map[string]media.RssSource),
		social:   make(map[string]media.SocialMention),
		comments: make(map[string][]media.SocialComment),
	}
}

// PutClient inserts or replaces a client.
func (db *DB) PutClient(c media.Client) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.clients[c.ID] = c
}

// PutKeyword inserts or replaces a keyword.
func (db *DB) PutKeyword(k media.Keyword) {
	db.mu.Lock()
	defer db.mu.Unlock()
	k.Client = nil
	db.keywords[k.ID] = k
}

// PutSource inserts or replaces an RSS source.
func (db *DB) PutSource(s media.RssSource) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sources[s.ID] = s
}

// Mentions returns a snapshot of every mention, oldest first.
func (db *DB) Mentions() []media.Mention {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]media.Mention, 0, len(db.mentions))
	for _, m := range db.mentions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Comments returns the stored comments of a social post.
func (db *DB) Comments(mentionID string) []media.SocialComment {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]media.SocialComment(nil), db.comments[mentionID]...)
}

// Source returns one RSS source.
func (db *DB) Source(id string) (media.RssSource, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.sources[id]
	return s, ok
}

func (db *DB) newID() (string, error) {
	id, err := db.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

// Articles returns the article view.
func (db *DB) Articles() *ArticleStore { return &ArticleStore{db: db} }

// Clients returns the client view.
func (db *DB) Clients() *ClientStore { return &ClientStore{db: db} }

// Keywords returns the keyword view.
func (db *DB) Keywords() *KeywordStore { return &KeywordStore{db: db} }

// MentionStore returns the mention view.
func (db *DB) MentionStore() *MentionStore { return &MentionStore{db: db} }

// Sources returns the RSS source view.
func (db *DB) Sources() *SourceStore { return &SourceStore{db: db} }

// Social returns the social view.
func (db *DB) Social() *SocialStore { return &SocialStore{db: db} }

// ArticleStore implements media.ArticleStore.
type ArticleStore struct{ db *DB }

// ExistsByURL implements media.ArticleStore.
func (s *ArticleStore) ExistsByURL(_ context.Context, url string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, a := range s.db.articles {
		if a.URL == url {
			return true, nil
		}
	}
	return false, nil
}

// ExistsByContentHash implements media.ArticleStore.
func (s *ArticleStore) ExistsByContentHash(_ context.Context, hash string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, a := range s.db.articles {
		if hash != "" && a.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// GetByURL implements media.ArticleStore.
func (s *ArticleStore) GetByURL(_ context.Context, url string) (media.Article, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, a := range s.db.articles {
		if a.URL == url {
			return a, nil
		}
	}
	return media.Article{}, fmt.Errorf("article %s: %w", url, media.ErrNotFound)
}

// Create implements media.ArticleStore.
func (s *ArticleStore) Create(_ context.Context, a media.Article) (media.Article, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.articles {
		if existing.URL == a.URL {
			return media.Article{}, fmt.Errorf("article %s: %w", a.URL, media.ErrDuplicate)
		}
	}
	if a.ID == "" {
		id, err := s.db.newID()
		if err != nil {
			return media.Article{}, err
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.db.clock.Now()
	}
	s.db.articles[a.ID] = a
	return a, nil
}

// SearchRecent implements media.ArticleStore.
func (s *ArticleStore) SearchRecent(
	_ context.Context,
	term string,
	since time.Time,
	exclude []string,
	limit int,
) ([]media.Article, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	needle := strings.ToLower(term)
	s.db.mu.RLock()
	var out []media.Article
	for _, a := range s.db.articles {
		if _, ok := skip[a.ID]; ok {
			continue
		}
		if effective(a.PublishedAt, a.CreatedAt).Before(since) {
			continue
		}
		if !strings.Contains(strings.ToLower(a.Title), needle) && !strings.Contains(strings.ToLower(a.Content), needle) {
			continue
		}
		out = append(out, a)
	}
	s.db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return effective(out[i].PublishedAt, out[i].CreatedAt).After(effective(out[j].PublishedAt, out[j].CreatedAt))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func effective(published *time.Time, created time.Time) time.Time {
	if published != nil {
		return *published
	}
	return created
}

// ClientStore implements media.ClientStore.
type ClientStore struct{ db *DB }

// Get implements media.ClientStore.
func (s *ClientStore) Get(_ context.Context, id string) (media.Client, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.clients[id]
	if !ok {
		return media.Client{}, fmt.Errorf("client %s: %w", id, media.ErrNotFound)
	}
	return c, nil
}

// ListActive implements media.ClientStore.
func (s *ClientStore) ListActive(_ context.Context) ([]media.Client, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []media.Client
	for _, c := range s.db.clients {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateGrounding implements media.ClientStore.
func (s *ClientStore) UpdateGrounding(_ context.Context, id string, at time.Time, result media.GroundingResult) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.clients[id]
	if !ok {
		return fmt.Errorf("client %s: %w", id, media.ErrNotFound)
	}
	c.LastGroundingAt = &at
	c.LastGroundingResult = &result
	s.db.clients[id] = c
	return nil
}

// KeywordStore implements media.KeywordStore.
type KeywordStore struct{ db *DB }

// ListActive implements media.KeywordStore.
func (s *KeywordStore) ListActive(_ context.Context) ([]media.Keyword, error) {
	return s.list(func(k media.Keyword, c media.Client) bool { return c.Active }), nil
}

// ListActiveForClient implements media.KeywordStore.
func (s *KeywordStore) ListActiveForClient(_ context.Context, clientID string) ([]media.Keyword, error) {
	return s.list(func(k media.Keyword, _ media.Client) bool { return k.ClientID == clientID }), nil
}

func (s *KeywordStore) list(keep func(media.Keyword, media.Client) bool) []media.Keyword {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	clients := make(map[string]*media.Client)
	var out []media.Keyword
	for _, k := range s.db.keywords {
		c, ok := s.db.clients[k.ClientID]
		if !ok || !k.Active || !keep(k, c) {
			continue
		}
		if _, seen := clients[c.ID]; !seen {
			cc := c
			clients[c.ID] = &cc
		}
		k.Client = clients[c.ID]
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Client.Name != out[j].Client.Name {
			return out[i].Client.Name < out[j].Client.Name
		}
		return out[i].Word < out[j].Word
	})
	return out
}

// MentionStore implements media.MentionStore.
type MentionStore struct{ db *DB }

// Create implements media.MentionStore.
func (s *MentionStore) Create(_ context.Context, m media.Mention) (media.Mention, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.mentions {
		if existing.ArticleID == m.ArticleID && existing.ClientID == m.ClientID {
			return media.Mention{}, fmt.Errorf("mention %s/%s: %w", m.ArticleID, m.ClientID, media.ErrDuplicate)
		}
	}
	if m.ID == "" {
		id, err := s.db.newID()
		if err != nil {
			return media.Mention{}, err
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.db.clock.Now()
	}
	s.db.mentions[m.ID] = m
	return m, nil
}

// Exists implements media.MentionStore.
func (s *MentionStore) Exists(_ context.Context, articleID, clientID string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, m := range s.db.mentions {
		if m.ArticleID == articleID && m.ClientID == clientID {
			return true, nil
		}
	}
	return false, nil
}

// GetDetail implements media.MentionStore.
func (s *MentionStore) GetDetail(_ context.Context, id string) (media.MentionDetail, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	m, ok := s.db.mentions[id]
	if !ok {
		return media.MentionDetail{}, fmt.Errorf("mention %s: %w", id, media.ErrNotFound)
	}
	a, ok := s.db.articles[m.ArticleID]
	if !ok {
		return media.MentionDetail{}, fmt.Errorf("article %s: %w", m.ArticleID, media.ErrNotFound)
	}
	c, ok := s.db.clients[m.ClientID]
	if !ok {
		return media.MentionDetail{}, fmt.Errorf("client %s: %w", m.ClientID, media.ErrNotFound)
	}
	return media.MentionDetail{Mention: m, Article: a, Client: c}, nil
}

// UpdateAnalysis implements media.MentionStore.
func (s *MentionStore) UpdateAnalysis(_ context.Context, id string, a media.Analysis, urgency media.Urgency) error {
	return s.update(id, func(m *media.Mention) {
		m.Sentiment = a.Sentiment
		m.Relevance = a.Relevance
		m.Urgency = urgency
		m.AISummary = a.Summary
		m.AIAction = a.SuggestedAction
	})
}

// MarkNotified implements media.MentionStore.
func (s *MentionStore) MarkNotified(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(m *media.Mention) {
		m.ClientNotified = true
		m.NotifiedAt = &at
	})
}

func (s *MentionStore) update(id string, fn func(*media.Mention)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.mentions[id]
	if !ok {
		return fmt.Errorf("mention %s: %w", id, media.ErrNotFound)
	}
	fn(&m)
	s.db.mentions[id] = m
	return nil
}

// LatestCreatedAt implements media.MentionStore.
func (s *MentionStore) LatestCreatedAt(_ context.Context) (*time.Time, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var latest *time.Time
	for _, m := range s.db.mentions {
		if latest == nil || m.CreatedAt.After(*latest) {
			t := m.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

// DailyCounts implements media.MentionStore.
func (s *MentionStore) DailyCounts(_ context.Context, clientID string, days int, now time.Time) ([]int, error) {
	if days <= 0 {
		return nil, nil
	}
	start := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	counts := make([]int, days)
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, m := range s.db.mentions {
		if m.ClientID != clientID {
			continue
		}
		idx := int(m.CreatedAt.UTC().Sub(start) / (24 * time.Hour))
		if !m.CreatedAt.Before(start) && idx < days {
			counts[idx]++
		}
	}
	return counts, nil
}

// ArchiveBefore implements media.MentionStore.
func (s *MentionStore) ArchiveBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, m := range s.db.mentions {
		if m.IsLegacy || !effective(m.PublishedAt, m.CreatedAt).Before(cutoff) {
			continue
		}
		m.IsLegacy = true
		s.db.mentions[id] = m
		n++
	}
	return n, nil
}

// SourceStore implements media.SourceStore.
type SourceStore struct{ db *DB }

// ListActive implements media.SourceStore.
func (s *SourceStore) ListActive(_ context.Context) ([]media.RssSource, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []media.RssSource
	for _, src := range s.db.sources {
		if src.Active {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// RecordSuccess implements media.SourceStore.
func (s *SourceStore) RecordSuccess(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(src *media.RssSource) {
		src.ErrorCount = 0
		src.LastFetch = &at
	})
}

// RecordFailure implements media.SourceStore.
func (s *SourceStore) RecordFailure(_ context.Context, id string) error {
	return s.update(id, func(src *media.RssSource) { src.ErrorCount++ })
}

// UpdateURL implements media.SourceStore.
func (s *SourceStore) UpdateURL(_ context.Context, id, url string) error {
	return s.update(id, func(src *media.RssSource) { src.URL = url })
}

func (s *SourceStore) update(id string, fn func(*media.RssSource)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	src, ok := s.db.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, media.ErrNotFound)
	}
	fn(&src)
	s.db.sources[id] = src
	return nil
}

// DeactivateFailing implements media.SourceStore.
func (s *SourceStore) DeactivateFailing(_ context.Context, threshold int) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, src := range s.db.sources {
		if src.Active && src.ErrorCount >= threshold {
			src.Active = false
			s.db.sources[id] = src
			n++
		}
	}
	return n, nil
}

// SocialStore implements media.SocialStore.
type SocialStore struct{ db *DB }

// Create implements media.SocialStore.
func (s *SocialStore) Create(_ context.Context, m media.SocialMention) (media.SocialMention, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.social {
		if existing.Platform == m.Platform && existing.PostID == m.PostID {
			return media.SocialMention{}, fmt.Errorf("social %s/%s: %w", m.Platform, m.PostID, media.ErrDuplicate)
		}
	}
	if m.ID == "" {
		id, err := s.db.newID()
		if err != nil {
			return media.SocialMention{}, err
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.db.clock.Now()
	}
	s.db.social[m.ID] = m
	return m, nil
}

// UpdateEngagement implements media.SocialStore.
func (s *SocialStore) UpdateEngagement(
	_ context.Context,
	platform media.Platform,
	postID string,
	likes, comments, shares, views int,
) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for id, m := range s.db.social {
		if m.Platform == platform && m.PostID == postID {
			m.Likes, m.Comments, m.Shares, m.Views = likes, comments, shares, views
			s.db.social[id] = m
		}
	}
	return nil
}

// Get implements media.SocialStore.
func (s *SocialStore) Get(_ context.Context, id string) (media.SocialMention, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	m, ok := s.db.social[id]
	if !ok {
		return media.SocialMention{}, fmt.Errorf("social mention %s: %w", id, media.ErrNotFound)
	}
	return m, nil
}

// SaveComments implements media.SocialStore.
func (s *SocialStore) SaveComments(_ context.Context, mentionID string, comments []media.SocialComment, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.social[mentionID]
	if !ok {
		return fmt.Errorf("social mention %s: %w", mentionID, media.ErrNotFound)
	}
	stored := make([]media.SocialComment, 0, len(comments))
	for _, c := range comments {
		if c.ID == "" {
			id, err := s.db.newID()
			if err != nil {
				return err
			}
			c.ID = id
		}
		c.SocialMentionID = mentionID
		stored = append(stored, c)
	}
	s.db.comments[mentionID] = stored
	m.CommentsExtractedAt = &at
	s.db.social[mentionID] = m
	return nil
}

// ArchiveBefore implements media.SocialStore.
func (s *SocialStore) ArchiveBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, m := range s.db.social {
		if m.IsLegacy || !effective(m.PostedAt, m.CreatedAt).Before(cutoff) {
			continue
		}
		m.IsLegacy = true
		s.db.social[id] = m
		n++
	}
	return n, nil
}

var (
	_ media.ArticleStore = (*ArticleStore)(nil)
	_ media.ClientStore  = (*ClientStore)(nil)
	_ media.KeywordStore = (*KeywordStore)(nil)
	_ media.MentionStore = (*MentionStore)(nil)
	_ media.SourceStore  = (*SourceStore)(nil)
	_ media.SocialStore  = (*SocialStore)(nil)
)
