package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodekb/lodestone/internal/search"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	var includeFolders []string
	var excludeFolders []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), limit, jsonOutput, includeFolders, excludeFolders)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultLimit, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().StringSliceVar(&includeFolders, "include", nil, "Restrict search to these folders")
	cmd.Flags().StringSliceVar(&excludeFolders, "exclude", nil, "Remove these folders from the search scope")
	return cmd
}

func runSearch(ctx context.Context, query string, limit int, jsonOutput bool, include, exclude []string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	engine := search.New(a.store, a.vectors, a.embedder, a.logger)
	results, err := engine.Search(ctx, search.Request{
		Query:          query,
		Limit:          limit,
		IncludeFolders: include,
		ExcludeFolders: exclude,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. %s (score %.3f)\n", i+1, r.FilePath, r.Score)
		fmt.Printf("    %s\n", firstLine(r.ChunkText))
	}
	return nil
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	const max = 120
	if len(text) > max {
		text = text[:max] + "..."
	}
	return text
}
