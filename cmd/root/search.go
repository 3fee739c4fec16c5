package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperwave/paperwave/pkg/cli"
	"github.com/paperwave/paperwave/pkg/retrieval"
)

type searchFlags struct {
	file        string
	page        int
	k           int
	fetchK      int
	minScore    float64
	includeSelf bool
}

func newSearchCmd() *cobra.Command {
	var flags searchFlags

	cmd := &cobra.Command{
		Use:     "search [query]",
		Short:   "Search the indexed library",
		Long:    `Run a semantic search over every indexed document, seeded by a text query or by a page of a library document`,
		GroupID: "query",
		Example: `  paperwave search "dark matter detection"
  paperwave search --file paper.pdf --page 3
  paperwave search "neutrinos" -k 10 --min-score 0.4`,
		Args: cobra.MaximumNArgs(1),
		RunE: flags.runSearch,
	}

	cmd.Flags().StringVar(&flags.file, "file", "", "Seed the query with a library document")
	cmd.Flags().IntVar(&flags.page, "page", 0, "Seed the query with a page of --file (1-based)")
	cmd.Flags().IntVarP(&flags.k, "k", "k", 5, "Number of results")
	cmd.Flags().IntVar(&flags.fetchK, "fetch-k", 0, "Candidate pool size before deduplication")
	cmd.Flags().Float64Var(&flags.minScore, "min-score", 0, "Drop results scoring below this similarity")
	cmd.Flags().BoolVar(&flags.includeSelf, "include-self", false, "Keep results from the seeding page itself")

	return cmd
}

func (f *searchFlags) runSearch(cmd *cobra.Command, args []string) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	var text string
	if len(args) == 1 {
		text = args[0]
	}
	if text == "" && f.file == "" {
		return fmt.Errorf("a query argument or --file is required")
	}

	a, _, err := newApp(cmd)
	if err != nil {
		return err
	}
	recoverState(cmd, a)

	query := retrieval.Query{
		Text:        text,
		Filename:    f.file,
		PageNumber:  f.page,
		K:           f.k,
		FetchK:      f.fetchK,
		ExcludeSelf: !f.includeSelf,
	}
	if cmd.Flags().Changed("min-score") {
		query.MinScore = &f.minScore
	}

	hits, err := a.Recommend(cmd.Context(), query)
	if err != nil {
		return err
	}

	printHits(out, hits)
	return nil
}

func printHits(out *cli.Printer, hits []retrieval.Hit) {
	if len(hits) == 0 {
		out.Println("No results.")
		return
	}
	for i, hit := range hits {
		location := hit.Filename
		if hit.PageNumber > 0 {
			location = fmt.Sprintf("%s p.%d", hit.Filename, hit.PageNumber)
		}
		out.Printf("%d. %s  score=%.2f\n", i+1, location, hit.Score)
		out.Printf("   %s\n", excerpt(hit.Snippet, 160))
	}
}
