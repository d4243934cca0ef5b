// Package draft keeps the single in-progress post draft of an authoring
// session and drives the recover-or-discard decision when a stored draft is
// found on re-entry.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// NoCategory is the category of a draft the author has not categorised yet.
const NoCategory = "noCategory"

var (
	// ErrTitleRequired is returned when publishing a draft without a title.
	ErrTitleRequired = errors.New("title is required")
	// ErrContentRequired is returned when the draft body has no text once
	// markup is removed.
	ErrContentRequired = errors.New("content is required")
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Draft is the serialized authoring state.
type Draft struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Category    string   `json:"category"`
	Hashtags    []string `json:"hashtags"`
	CoverImages []string `json:"coverImages"`
	Revision    int64    `json:"revision"`
}

// Empty returns the initial draft of a fresh authoring page.
func Empty() Draft {
	return Draft{Category: NoCategory}
}

// IsPristine reports whether d equals the initial empty draft. Revision is
// bookkeeping and does not count as an edit.
func (d Draft) IsPristine() bool {
	return d.Title == "" &&
		d.Content == "" &&
		(d.Category == NoCategory || d.Category == "") &&
		len(d.Hashtags) == 0 &&
		len(d.CoverImages) == 0
}

// Validate checks that d can be published.
func Validate(d Draft) error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrTitleRequired
	}
	if PlainText(d.Content) == "" {
		return ErrContentRequired
	}
	return nil
}

// PlainText strips markup from editor HTML and returns the trimmed text.
func PlainText(content string) string {
	text := tagPattern.ReplaceAllString(content, " ")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return strings.TrimSpace(text)
}

func encode(d Draft) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Draft, error) {
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return Draft{}, fmt.Errorf("failed to decode draft: %w", err)
	}
	if d.Category == "" {
		d.Category = NoCategory
	}
	return d, nil
}
