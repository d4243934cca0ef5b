package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/models"
)

// ErrPostNotFound is returned when a post id does not exist.
var ErrPostNotFound = errors.New("post not found")

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PostRepository stores posts and likes. It is the feed.Store used in
// production.
type PostRepository struct {
	*Repository
}

// NewPostRepository creates a new post repository
func NewPostRepository(repo *Repository) *PostRepository {
	return &PostRepository{Repository: repo}
}

var _ feed.Store = (*PostRepository)(nil)

// Query returns one page of posts matching f, starting after token.
func (r *PostRepository) Query(ctx context.Context, f feed.Filter, token string) (feed.StorePage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 12
	}

	query := r.db.WithContext(ctx).Model(&models.Post{})
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.Author != "" {
		query = query.Where("author_id = ?", f.Author)
	}
	query, err := orderPosts(query, f.Sort, token)
	if err != nil {
		return feed.StorePage{}, err
	}

	// One extra row tells whether another page exists
	var posts []models.Post
	if err := query.Limit(limit + 1).Find(&posts).Error; err != nil {
		return feed.StorePage{}, fmt.Errorf("failed to query posts: %w", err)
	}

	page := feed.StorePage{}
	if len(posts) > limit {
		posts = posts[:limit]
		page.HasMore = true
		page.NextToken = encodeToken(f.Sort, &posts[len(posts)-1])
	}

	likers, err := r.likers(ctx, r.db, postIDs(posts))
	if err != nil {
		return feed.StorePage{}, err
	}
	page.Items = make([]feed.Item, len(posts))
	for i := range posts {
		page.Items[i] = toItem(&posts[i], likers[posts[i].ID])
	}
	return page, nil
}

// WriteLikeDelta adds or removes userID's like on itemID and returns the
// resulting count. Repeating a write leaves the same state.
func (r *PostRepository) WriteLikeDelta(ctx context.Context, itemID, userID string, dir feed.LikeDirection) (feed.LikeResult, error) {
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Select("id").Where("id = ?", itemID).First(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}

		switch dir {
		case feed.Like:
			like := models.PostLike{PostID: itemID, UserID: userID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error; err != nil {
				return err
			}
		default:
			if err := tx.Where("post_id = ? AND user_id = ?", itemID, userID).Delete(&models.PostLike{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.PostLike{}).Where("post_id = ?", itemID).Count(&count).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", itemID).UpdateColumn("like_count", count).Error
	})
	if err != nil {
		return feed.LikeResult{}, fmt.Errorf("failed to write %s: %w", dir, err)
	}
	return feed.LikeResult{LikeCount: count}, nil
}

// Create inserts a post, assigning an id when it has none
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// GetByID retrieves a post as a feed item
func (r *PostRepository) GetByID(ctx context.Context, id string) (feed.Item, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return feed.Item{}, ErrPostNotFound
		}
		return feed.Item{}, err
	}
	likers, err := r.likers(ctx, r.db, []string{id})
	if err != nil {
		return feed.Item{}, err
	}
	return toItem(&post, likers[id]), nil
}

// IncrementView bumps a post's view count and returns the new value
func (r *PostRepository) IncrementView(ctx context.Context, id string) (int64, error) {
	var views int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).Where("id = ?", id).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPostNotFound
		}
		return tx.Model(&models.Post{}).Where("id = ?", id).Pluck("view_count", &views).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count view: %w", err)
	}
	return views, nil
}

// ActivityDays returns the distinct UTC dates, oldest first, on which
// authorID published in [from, to).
func (r *PostRepository) ActivityDays(ctx context.Context, authorID string, from, to time.Time) ([]string, error) {
	var stamps []time.Time
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("author_id = ? AND created_at >= ? AND created_at < ?", authorID, from.UTC(), to.UTC()).
		Pluck("created_at", &stamps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}

	seen := make(map[string]bool, len(stamps))
	days := make([]string, 0, len(stamps))
	for _, ts := range stamps {
		day := ts.UTC().Format(time.DateOnly)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Strings(days)
	return days, nil
}

func (r *PostRepository) likers(ctx context.Context, tx *gorm.DB, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var likes []models.PostLike
	if err := tx.WithContext(ctx).Where("post_id IN ?", ids).Find(&likes).Error; err != nil {
		return nil, fmt.Errorf("failed to load likes: %w", err)
	}
	for _, l := range likes {
		out[l.PostID] = append(out[l.PostID], l.UserID)
	}
	return out, nil
}

func postIDs(posts []models.Post) []string {
	ids := make([]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}
	return ids
}

func toItem(p *models.Post, likedBy []string) feed.Item {
	return feed.Item{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		Title:        p.Title,
		Content:      p.Content,
		Category:     p.Category,
		Hashtags:     p.Hashtags,
		CoverImages:  p.CoverImages,
		LikeCount:    p.LikeCount,
		ViewCount:    p.ViewCount,
		CommentCount: p.CommentCount,
		LikedBy:      feed.NormalizeLikedBy(likedBy),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
