package feed

import (
	"sort"
	"time"
)

// Item is a content post as held by the channel cache. LikeCount mirrors
// len(LikedBy) once writes settle; optimistic updates may move it first.
type Item struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Category     string    `json:"category"`
	Hashtags     []string  `json:"hashtags"`
	CoverImages  []string  `json:"coverImages"`
	LikeCount    int64     `json:"likeCount"`
	ViewCount    int64     `json:"viewCount"`
	CommentCount int64     `json:"commentCount"`
	LikedBy      []string  `json:"likedBy"` // sorted, unique
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Hashtags = cloneStrings(it.Hashtags)
	out.CoverImages = cloneStrings(it.CoverImages)
	out.LikedBy = cloneStrings(it.LikedBy)
	return out
}

// IsLikedBy reports whether userID is in the item's likedBy set.
func (it Item) IsLikedBy(userID string) bool {
	i := sort.SearchStrings(it.LikedBy, userID)
	return i < len(it.LikedBy) && it.LikedBy[i] == userID
}

// WithLike returns a copy with userID's membership set to liked. The count moves
// by exactly one only when membership actually changes, so a second call with
// the opposite value undoes the first. A count that disagrees with the store is
// left for commit reconciliation to fix.
func (it Item) WithLike(userID string, liked bool) Item {
	out := it.Clone()
	i := sort.SearchStrings(out.LikedBy, userID)
	present := i < len(out.LikedBy) && out.LikedBy[i] == userID
	switch {
	case liked && !present:
		out.LikedBy = append(out.LikedBy, "")
		copy(out.LikedBy[i+1:], out.LikedBy[i:])
		out.LikedBy[i] = userID
		out.LikeCount++
	case !liked && present:
		out.LikedBy = append(out.LikedBy[:i], out.LikedBy[i+1:]...)
		out.LikeCount--
	}
	return out
}

// NormalizeLikedBy sorts and dedupes a likedBy list.
func NormalizeLikedBy(users []string) []string {
	if len(users) == 0 {
		return nil
	}
	out := cloneStrings(users)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
