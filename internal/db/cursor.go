package db

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/models"
)

// ErrBadToken is returned for page tokens this repository did not issue.
var ErrBadToken = errors.New("malformed page token")

// keyset is the position after the last post of a page: the sort column
// value of that post plus its id as tie breaker.
type keyset struct {
	Sort    feed.Sort `json:"s"`
	Created int64     `json:"c,omitempty"` // unix nanoseconds, latest sort
	Likes   int64     `json:"l,omitempty"` // like count, popular sort
	ID      string    `json:"i"`
}

func encodeToken(sort feed.Sort, last *models.Post) string {
	k := keyset{Sort: sort, ID: last.ID}
	switch sort {
	case feed.SortPopular:
		k.Likes = last.LikeCount
	default:
		k.Created = last.CreatedAt.UnixNano()
	}
	data, _ := json.Marshal(k)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeToken(token string) (keyset, error) {
	var k keyset
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if err := json.Unmarshal(data, &k); err != nil {
		return k, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if k.ID == "" {
		return k, fmt.Errorf("%w: missing id", ErrBadToken)
	}
	return k, nil
}

// orderPosts applies the channel order and, for a non-empty token, the
// keyset condition that starts the page after the token's post.
func orderPosts(query *gorm.DB, sort feed.Sort, token string) (*gorm.DB, error) {
	var k keyset
	if token != "" {
		var err error
		if k, err = decodeToken(token); err != nil {
			return nil, err
		}
		if k.Sort != sort {
			return nil, fmt.Errorf("%w: token for sort %q used with %q", ErrBadToken, k.Sort, sort)
		}
	}

	switch sort {
	case feed.SortLatest:
		query = query.Order("created_at DESC").Order("id DESC")
		if token != "" {
			created := time.Unix(0, k.Created).UTC()
			query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", created, created, k.ID)
		}
	case feed.SortPopular:
		query = query.Order("like_count DESC").Order("id DESC")
		if token != "" {
			query = query.Where("(like_count < ? OR (like_count = ? AND id < ?))", k.Likes, k.Likes, k.ID)
		}
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", feed.ErrInvalidChannel, sort)
	}
	return query, nil
}
