// Package builtin registers the gateway's four starter tools: post search,
// post retrieval, category listing, and comment submission. They give a
// fresh install something useful to expose and double as reference
// implementations for host abilities.
package builtin

import (
	"context"
	"fmt"

	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/schema"
)

// Namespace prefixes every built-in tool name.
const Namespace = "webmcp"

// Register adds the built-in abilities to the registry.
func Register(registry *ability.Registry, content ContentStore) error {
	t := &tools{content: content}

	for _, a := range []*ability.Ability{
		t.searchPosts(),
		t.getPost(),
		t.getCategories(),
		t.submitComment(),
	} {
		if err := registry.Register(a); err != nil {
			return fmt.Errorf("failed to register builtin ability: %w", err)
		}
	}
	return nil
}

type tools struct {
	content ContentStore
}

func (t *tools) searchPosts() *ability.Ability {
	return &ability.Ability{
		Name:        Namespace + "/search-posts",
		Label:       "Search Posts",
		Description: "Search published posts by keyword. Returns titles, excerpts, and URLs.",
		InputSchema: schema.MustParse(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search keyword or phrase."},
				"count": {"type": "integer", "description": "Number of results to return (1-50).", "default": 10, "minimum": 1, "maximum": 50}
			},
			"required": ["query"]
		}`),
		OutputSchema: schema.MustParse(`{
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "integer"},
					"title": {"type": "string"},
					"excerpt": {"type": "string"},
					"url": {"type": "string"},
					"date": {"type": "string"}
				}
			}
		}`),
		Visibility: ability.VisibilityPublic,
		ReadOnly:   true,
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			query := stringArg(input, "query")
			if query == "" {
				return nil, ability.NewError("invalid_query", "Search query is required.", 400)
			}
			count := clampInt(intArg(input, "count", 10), 1, 50)

			posts, err := t.content.SearchPosts(ctx, query, count)
			if err != nil {
				return nil, fmt.Errorf("post search failed: %w", err)
			}
			return posts, nil
		},
	}
}

func (t *tools) getPost() *ability.Ability {
	return &ability.Ability{
		Name:        Namespace + "/get-post",
		Label:       "Get Post",
		Description: "Retrieve a single published post by ID, including its full content.",
		InputSchema: schema.MustParse(`{
			"type": "object",
			"properties": {
				"id": {"type": "integer", "description": "The post ID."}
			},
			"required": ["id"]
		}`),
		Visibility: ability.VisibilityPublic,
		ReadOnly:   true,
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			id := int64(intArg(input, "id", 0))
			if id <= 0 {
				return nil, ability.NewError("invalid_post_id", "A positive post ID is required.", 400)
			}

			post, err := t.content.GetPost(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("post lookup failed: %w", err)
			}
			if post == nil {
				return nil, ability.NewError("post_not_found", "No published post with that ID.", 404)
			}
			return post, nil
		},
	}
}

func (t *tools) getCategories() *ability.Ability {
	return &ability.Ability{
		Name:        Namespace + "/get-categories",
		Label:       "Get Categories",
		Description: "List all content categories with their post counts.",
		InputSchema: schema.Value{},
		Visibility:  ability.VisibilityPublic,
		ReadOnly:    true,
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			categories, err := t.content.Categories(ctx)
			if err != nil {
				return nil, fmt.Errorf("category listing failed: %w", err)
			}
			return categories, nil
		},
	}
}

func (t *tools) submitComment() *ability.Ability {
	return &ability.Ability{
		Name:        Namespace + "/submit-comment",
		Label:       "Submit Comment",
		Description: "Submit a comment on a published post.",
		InputSchema: schema.MustParse(`{
			"type": "object",
			"properties": {
				"post_id": {"type": "integer", "description": "The post to comment on."},
				"author_name": {"type": "string", "description": "The commenter's display name."},
				"author_email": {"type": "string", "description": "The commenter's email address."},
				"content": {"type": "string", "description": "The comment text."}
			},
			"required": ["post_id", "author_name", "content"]
		}`),
		Visibility: ability.VisibilityPublic,
		// Write tool: authenticated callers must present a CSRF token.
		ReadOnly: false,
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			postID := int64(intArg(input, "post_id", 0))
			author := stringArg(input, "author_name")
			email := stringArg(input, "author_email")
			content := stringArg(input, "content")

			if postID <= 0 {
				return nil, ability.NewError("invalid_post_id", "A positive post ID is required.", 400)
			}
			if author == "" || content == "" {
				return nil, ability.NewError("invalid_comment", "Author name and content are required.", 400)
			}

			post, err := t.content.GetPost(ctx, postID)
			if err != nil {
				return nil, fmt.Errorf("post lookup failed: %w", err)
			}
			if post == nil {
				return nil, ability.NewError("post_not_found", "No published post with that ID.", 404)
			}

			id, err := t.content.SubmitComment(ctx, postID, author, email, content)
			if err != nil {
				return nil, fmt.Errorf("comment submission failed: %w", err)
			}
			return map[string]interface{}{"id": id, "status": "pending"}, nil
		},
	}
}

func stringArg(input map[string]interface{}, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// intArg tolerates both JSON numbers (float64) and native ints.
func intArg(input map[string]interface{}, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
