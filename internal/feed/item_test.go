package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemWithLike(t *testing.T) {
	tests := []struct {
		name      string
		item      Item
		user      string
		liked     bool
		wantCount int64
		wantUsers []string
	}{
		{
			name:      "like adds member",
			item:      Item{LikeCount: 5, LikedBy: []string{"a", "c"}},
			user:      "b",
			liked:     true,
			wantCount: 6,
			wantUsers: []string{"a", "b", "c"},
		},
		{
			name:      "like twice is stable",
			item:      Item{LikeCount: 2, LikedBy: []string{"a", "b"}},
			user:      "b",
			liked:     true,
			wantCount: 2,
			wantUsers: []string{"a", "b"},
		},
		{
			name:      "unlike removes member",
			item:      Item{LikeCount: 2, LikedBy: []string{"a", "b"}},
			user:      "a",
			liked:     false,
			wantCount: 1,
			wantUsers: []string{"b"},
		},
		{
			name:      "unlike non member",
			item:      Item{LikeCount: 1, LikedBy: []string{"a"}},
			user:      "z",
			liked:     false,
			wantCount: 1,
			wantUsers: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.item.Clone()
			got := tt.item.WithLike(tt.user, tt.liked)
			assert.Equal(t, tt.wantCount, got.LikeCount)
			assert.ElementsMatch(t, tt.wantUsers, got.LikedBy)
			assert.Equal(t, tt.liked, got.IsLikedBy(tt.user))
			assert.Equal(t, before, tt.item, "receiver must not change")
		})
	}
}

func TestWithLikeIsInvertible(t *testing.T) {
	// A cached count that fell behind the store must come back unchanged after
	// an optimistic unlike is undone.
	diverged := Item{LikeCount: 0, LikedBy: []string{"a"}}
	undone := diverged.WithLike("a", false).WithLike("a", true)
	assert.Equal(t, diverged.LikeCount, undone.LikeCount)
	assert.Equal(t, diverged.LikedBy, undone.LikedBy)

	liked := Item{LikeCount: 3, LikedBy: []string{"b"}}
	undone = liked.WithLike("a", true).WithLike("a", false)
	assert.Equal(t, liked.LikeCount, undone.LikeCount)
	assert.Equal(t, []string{"b"}, undone.LikedBy)
}

func TestNormalizeLikedBy(t *testing.T) {
	assert.Nil(t, NormalizeLikedBy(nil))
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeLikedBy([]string{"c", "a", "b", "a", "c"}))
}

func TestChannelKey(t *testing.T) {
	habit := ChannelKey{Category: "habit", Sort: SortLatest}
	assert.Equal(t, "habit/latest", habit.String())
	assert.NoError(t, habit.Validate())
	assert.Equal(t, "habit", habit.Filter(10).Category)

	all := ChannelKey{Category: CategoryAll, Sort: SortPopular, Author: "u1"}
	assert.Equal(t, "total/popular@u1", all.String())
	f := all.Filter(5)
	assert.Equal(t, "", f.Category)
	assert.Equal(t, "u1", f.Author)
	assert.Equal(t, 5, f.Limit)

	assert.ErrorIs(t, ChannelKey{Category: "habit", Sort: "hot"}.Validate(), ErrInvalidChannel)
	assert.ErrorIs(t, ChannelKey{Sort: SortLatest}.Validate(), ErrInvalidChannel)
}
