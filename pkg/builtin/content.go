package builtin

import "context"

// Post is a published content item exposed through the search and get tools.
type Post struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url"`
	Date    string `json:"date"`
}

// Category groups posts.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int64  `json:"count"`
}

// ContentStore is the host content backing the built-in tools. A
// sqlite-backed implementation ships with the gateway.
type ContentStore interface {
	// SearchPosts returns up to count published posts matching the query.
	SearchPosts(ctx context.Context, query string, count int) ([]Post, error)
	// GetPost returns one published post with its full content, or nil when
	// it does not exist.
	GetPost(ctx context.Context, id int64) (*Post, error)
	// Categories returns all categories.
	Categories(ctx context.Context) ([]Category, error)
	// SubmitComment stores a visitor comment and returns its ID.
	SubmitComment(ctx context.Context, postID int64, author, email, content string) (int64, error)
}
