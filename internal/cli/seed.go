package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/code-atlantic/abridge/internal/config"
	"github.com/code-atlantic/abridge/internal/logger"
	"github.com/code-atlantic/abridge/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the store with demo content",
	Long: `Insert a handful of demo posts and categories so the built-in tools
have something to return on a fresh install.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	db, err := store.OpenSQLite(cfg.DBPath, lg.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	posts := []struct {
		title, excerpt, content, url string
	}{
		{
			title:   "Welcome to Abridge",
			excerpt: "What the tool gateway is and how agents use it.",
			content: "Abridge exposes registered abilities as discoverable tools. Agents fetch the catalog, obtain a nonce, and execute tools over HTTP.",
			url:     "/posts/welcome-to-abridge",
		},
		{
			title:   "Writing Your First Ability",
			excerpt: "Registering a custom ability with a schema and a permission check.",
			content: "An ability pairs an execute callback with a JSON Schema describing its input. Visibility and permission predicates decide who can see and call it.",
			url:     "/posts/first-ability",
		},
		{
			title:   "Rate Limits and Nonces",
			excerpt: "How execution is protected against abuse.",
			content: "Executions count against per-tool and global fixed windows. Authenticated write-tool calls additionally require a short-lived CSRF token.",
			url:     "/posts/rate-limits-and-nonces",
		},
	}

	for _, p := range posts {
		id, err := db.SeedPost(p.title, p.excerpt, p.content, p.url)
		if err != nil {
			return fmt.Errorf("failed to seed post %q: %w", p.title, err)
		}
		fmt.Printf("Seeded post %d: %s\n", id, p.title)
	}

	categories := []struct {
		name, slug string
		count      int64
	}{
		{"Guides", "guides", 2},
		{"Announcements", "announcements", 1},
	}

	for _, c := range categories {
		id, err := db.SeedCategory(c.name, c.slug, c.count)
		if err != nil {
			return fmt.Errorf("failed to seed category %q: %w", c.name, err)
		}
		fmt.Printf("Seeded category %d: %s\n", id, c.name)
	}

	return nil
}
