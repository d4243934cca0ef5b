package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/models"
	"github.com/mangohabit/feedcore/pkg/config"
)

func setupTestDB(t *testing.T) *PostRepository {
	t.Helper()
	database, err := New(&config.DatabaseConfig{URL: ":memory:", Driver: "sqlite"}, "error")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Migrate(context.Background()))
	return NewPostRepository(NewRepository(database.DB))
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seedPosts(t *testing.T, repo *PostRepository, n int, category string) []*models.Post {
	t.Helper()
	posts := make([]*models.Post, n)
	for i := range posts {
		posts[i] = &models.Post{
			ID:        fmt.Sprintf("%s-%02d", category, i),
			AuthorID:  "author",
			Title:     fmt.Sprintf("post %d", i),
			Content:   "<p>body</p>",
			Category:  category,
			Hashtags:  []string{"habit"},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, repo.Create(context.Background(), posts[i]))
	}
	return posts
}

func drain(t *testing.T, repo *PostRepository, f feed.Filter) []string {
	t.Helper()
	var ids []string
	token := ""
	for pages := 0; pages < 20; pages++ {
		page, err := repo.Query(context.Background(), f, token)
		require.NoError(t, err)
		for _, it := range page.Items {
			ids = append(ids, it.ID)
		}
		if !page.HasMore {
			return ids
		}
		token = page.NextToken
	}
	t.Fatal("pagination did not terminate")
	return nil
}

func TestQueryLatestPaginates(t *testing.T) {
	repo := setupTestDB(t)
	seedPosts(t, repo, 5, "habit")
	seedPosts(t, repo, 2, "study")

	ids := drain(t, repo, feed.Filter{Category: "habit", Sort: feed.SortLatest, Limit: 2})
	assert.Equal(t, []string{"habit-04", "habit-03", "habit-02", "habit-01", "habit-00"}, ids)

	all := drain(t, repo, feed.Filter{Sort: feed.SortLatest, Limit: 3})
	assert.Len(t, all, 7)
}

func TestQueryExactPageIsExhausted(t *testing.T) {
	repo := setupTestDB(t)
	seedPosts(t, repo, 2, "habit")

	page, err := repo.Query(context.Background(), feed.Filter{Category: "habit", Sort: feed.SortLatest, Limit: 2}, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextToken)
}

func TestQueryPopular(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	seedPosts(t, repo, 3, "habit")

	for _, u := range []string{"u1", "u2"} {
		_, err := repo.WriteLikeDelta(ctx, "habit-00", u, feed.Like)
		require.NoError(t, err)
	}
	_, err := repo.WriteLikeDelta(ctx, "habit-02", "u1", feed.Like)
	require.NoError(t, err)

	ids := drain(t, repo, feed.Filter{Sort: feed.SortPopular, Limit: 1})
	assert.Equal(t, []string{"habit-00", "habit-02", "habit-01"}, ids)
}

func TestQueryByAuthor(t *testing.T) {
	repo := setupTestDB(t)
	seedPosts(t, repo, 2, "habit")
	require.NoError(t, repo.Create(context.Background(), &models.Post{
		AuthorID: "other", Title: "x", Content: "y", Category: "habit", CreatedAt: base,
	}))

	ids := drain(t, repo, feed.Filter{Sort: feed.SortLatest, Author: "other", Limit: 5})
	assert.Len(t, ids, 1)
}

func TestQueryRejectsBadTokens(t *testing.T) {
	repo := setupTestDB(t)
	seedPosts(t, repo, 3, "habit")
	ctx := context.Background()

	_, err := repo.Query(ctx, feed.Filter{Sort: feed.SortLatest, Limit: 1}, "%%%")
	assert.ErrorIs(t, err, ErrBadToken)

	page, err := repo.Query(ctx, feed.Filter{Sort: feed.SortLatest, Limit: 1}, "")
	require.NoError(t, err)
	_, err = repo.Query(ctx, feed.Filter{Sort: feed.SortPopular, Limit: 1}, page.NextToken)
	assert.ErrorIs(t, err, ErrBadToken, "latest token used with popular")

	_, err = repo.Query(ctx, feed.Filter{Sort: "hot", Limit: 1}, "")
	assert.ErrorIs(t, err, feed.ErrInvalidChannel)
}

func TestWriteLikeDeltaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	seedPosts(t, repo, 1, "habit")

	for i := 0; i < 2; i++ {
		res, err := repo.WriteLikeDelta(ctx, "habit-00", "u1", feed.Like)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.LikeCount)
	}

	item, err := repo.GetByID(ctx, "habit-00")
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.LikeCount)
	assert.Equal(t, []string{"u1"}, item.LikedBy)

	for i := 0; i < 2; i++ {
		res, err := repo.WriteLikeDelta(ctx, "habit-00", "u1", feed.Unlike)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.LikeCount)
	}

	_, err = repo.WriteLikeDelta(ctx, "missing", "u1", feed.Like)
	assert.True(t, errors.Is(err, ErrPostNotFound))
}

func TestIncrementView(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	seedPosts(t, repo, 1, "habit")

	views, err := repo.IncrementView(ctx, "habit-00")
	require.NoError(t, err)
	assert.Equal(t, int64(1), views)
	views, err = repo.IncrementView(ctx, "habit-00")
	require.NoError(t, err)
	assert.Equal(t, int64(2), views)

	_, err = repo.IncrementView(ctx, "missing")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestActivityDays(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	for i, at := range []time.Time{
		base,
		base.Add(2 * time.Hour),
		base.Add(48 * time.Hour),
		base.Add(30 * 24 * time.Hour),
	} {
		require.NoError(t, repo.Create(ctx, &models.Post{
			ID: fmt.Sprintf("p%d", i), AuthorID: "me", Title: "t", Content: "c", Category: "habit", CreatedAt: at,
		}))
	}

	days, err := repo.ActivityDays(ctx, "me", base.Add(-time.Hour), base.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-03-03"}, days)

	days, err = repo.ActivityDays(ctx, "someone", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestTokenRoundTrip(t *testing.T) {
	p := &models.Post{ID: "abc", CreatedAt: base, LikeCount: 7}
	k, err := decodeToken(encodeToken(feed.SortPopular, p))
	require.NoError(t, err)
	assert.Equal(t, keyset{Sort: feed.SortPopular, Likes: 7, ID: "abc"}, k)

	k, err = decodeToken(encodeToken(feed.SortLatest, p))
	require.NoError(t, err)
	assert.Equal(t, base.UnixNano(), k.Created)
}
