package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/internal/db"
	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/models"
	"github.com/mangohabit/feedcore/pkg/logging"
)

// Categories are the habit categories posts are spread over
var Categories = []string{"exercise", "study", "hobby", "health", "habit"}

// Options controls how much data is generated
type Options struct {
	Posts   int
	Authors int
	Likers  int
	Days    int // posts are spread over the last Days days
	Seed    int64
}

// Seeder fills a development database with fake posts and likes
type Seeder struct {
	repo   *db.PostRepository
	faker  *gofakeit.Faker
	logger *zap.Logger
}

// NewSeeder creates a new seeder. A zero seed picks a random one.
func NewSeeder(repo *db.PostRepository, seed int64) *Seeder {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{
		repo:   repo,
		faker:  gofakeit.New(uint64(seed)),
		logger: logging.WithComponent("seed"),
	}
}

// Result summarises a seeding run
type Result struct {
	Posts int
	Likes int
}

// Run creates opts.Posts posts and a random set of likes on them
func (s *Seeder) Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Authors <= 0 {
		opts.Authors = 1
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}

	authors := s.users("author", opts.Authors)
	likers := s.users("user", opts.Likers)
	now := time.Now().UTC()

	var res Result
	for i := 0; i < opts.Posts; i++ {
		post := &models.Post{
			AuthorID:  authors[s.pick(len(authors))],
			Title:     s.faker.HipsterSentence(),
			Content:   fmt.Sprintf("<p>%s %s</p>", s.faker.HipsterSentence(), s.faker.HipsterSentence()),
			Category:  Categories[s.pick(len(Categories))],
			Hashtags:  []string{s.faker.Word(), s.faker.Word()},
			CreatedAt: s.faker.DateRange(now.AddDate(0, 0, -opts.Days), now).UTC(),
		}
		if err := s.repo.Create(ctx, post); err != nil {
			return res, fmt.Errorf("failed to seed post %d: %w", i, err)
		}
		res.Posts++

		if len(likers) == 0 {
			continue
		}
		for _, u := range likers[:s.pick(len(likers)+1)] {
			if _, err := s.repo.WriteLikeDelta(ctx, post.ID, u, feed.Like); err != nil {
				return res, fmt.Errorf("failed to seed like: %w", err)
			}
			res.Likes++
		}
	}

	s.logger.Info("Seeded database", zap.Int("posts", res.Posts), zap.Int("likes", res.Likes))
	return res, nil
}

func (s *Seeder) users(prefix string, n int) []string {
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("%s-%d-%s", prefix, i, s.faker.Username())
	}
	return users
}

// pick returns a random index below n
func (s *Seeder) pick(n int) int {
	return s.faker.IntRange(0, n-1)
}
