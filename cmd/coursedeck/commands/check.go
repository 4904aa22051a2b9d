package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/loader"
	"github.com/coursedeck/coursedeck/internal/repourl"
)

// CheckCommand implements the check command: it fetches a repository's
// manifest and reports the groups and coursewares the player would load.
func CheckCommand(args []string) error {
	var repoURL string
	branch := "main"

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--branch" || arg == "-b" {
			if i+1 < len(args) {
				branch = args[i+1]
				i++
			}
		} else if !strings.HasPrefix(arg, "-") {
			repoURL = arg
		}
	}
	if repoURL == "" {
		return fmt.Errorf("repository URL required")
	}

	parsed := repourl.ParseUserRepoURL(repoURL, branch)
	if parsed == nil {
		return fmt.Errorf("unsupported repository URL: %s", repoURL)
	}

	fmt.Printf("Repository: %s/%s/%s (branch %s)\n", parsed.Platform, parsed.Owner, parsed.Repo, parsed.Branch)
	fmt.Printf("Raw base:   %s\n\n", parsed.RawURL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	l := loader.New(30*time.Second, loader.DefaultRetryConfig())
	assets := coursedeck.NewAssetResolver()
	result, err := l.LoadAll(ctx, []coursedeck.RepoConfig{{BaseURL: parsed.RawURL}}, assets)
	if err != nil {
		return fmt.Errorf("failed to load repository: %w", err)
	}

	if len(result.Groups) == 0 {
		fmt.Println("No loadable groups found (missing or empty manifest.json?)")
		return nil
	}

	for _, g := range result.Groups {
		fmt.Printf("Group %s (%s): %d courseware(s)\n", g.ID, g.Name, len(g.Coursewares))
		for _, cw := range g.Coursewares {
			fmt.Printf("  %-30s %d page(s)\n", cw.FilePath, cw.PageCount())
		}
	}
	if assets.Len() > 0 {
		fmt.Printf("\nAudio assets registered: %d\n", assets.Len())
	}
	return nil
}
