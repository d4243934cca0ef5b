package models

import (
	"time"
)

// Post represents a published post
type Post struct {
	ID           string    `gorm:"type:varchar(36);primaryKey;column:id"`
	AuthorID     string    `gorm:"type:varchar(64);not null;index:idx_posts_author_created,priority:1;column:author_id"`
	Title        string    `gorm:"type:varchar(255);not null;column:title"`
	Content      string    `gorm:"type:text;not null;column:content"`
	Category     string    `gorm:"type:varchar(64);not null;index;column:category"`
	Hashtags     []string  `gorm:"serializer:json;column:hashtags"`
	CoverImages  []string  `gorm:"serializer:json;column:cover_images"`
	LikeCount    int64     `gorm:"not null;default:0;index;column:like_count"`
	ViewCount    int64     `gorm:"not null;default:0;column:view_count"`
	CommentCount int64     `gorm:"not null;default:0;column:comment_count"`
	CreatedAt    time.Time `gorm:"not null;index;index:idx_posts_author_created,priority:2;column:created_at"`
	UpdatedAt    time.Time `gorm:"not null;column:updated_at"`

	// Relationships
	Likes []PostLike `gorm:"foreignKey:PostID;references:ID"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "mango_posts"
}

// PostLike records one user's like on a post. The composite key makes a
// repeated like a no-op.
type PostLike struct {
	PostID    string    `gorm:"type:varchar(36);primaryKey;column:post_id"`
	UserID    string    `gorm:"type:varchar(64);primaryKey;column:user_id"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for PostLike
func (PostLike) TableName() string {
	return "mango_post_likes"
}

// All lists the models managed by migrations
func All() []interface{} {
	return []interface{}{&Post{}, &PostLike{}}
}
