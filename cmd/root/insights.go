package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperwave/paperwave/pkg/cli"
	"github.com/paperwave/paperwave/pkg/insights"
)

type insightsFlags struct {
	file string
	page int
	k    int
	web  bool
	webK int
}

func newInsightsCmd() *cobra.Command {
	var flags insightsFlags

	cmd := &cobra.Command{
		Use:     "insights [query]",
		Short:   "Generate grounded insights from the library",
		Long:    `Ask the model for a summary, key insights, facts, and contradictions, grounded in retrieved passages from the indexed library`,
		GroupID: "query",
		Example: `  paperwave insights "what limits detector sensitivity?"
  paperwave insights --file paper.pdf --page 3
  paperwave insights cross paper-a.pdf paper-b.pdf`,
		Args: cobra.MaximumNArgs(1),
		RunE: flags.runInsights,
	}

	cmd.Flags().StringVar(&flags.file, "file", "", "Focus on a library document")
	cmd.Flags().IntVar(&flags.page, "page", 0, "Focus on a page of --file (1-based)")
	cmd.Flags().IntVarP(&flags.k, "k", "k", 0, "Number of supporting passages to retrieve")
	cmd.Flags().BoolVar(&flags.web, "web", false, "Blend in web results when a searcher is configured")
	cmd.Flags().IntVar(&flags.webK, "web-k", 0, "Number of web results to blend in")

	cmd.AddCommand(newCrossInsightsCmd())

	return cmd
}

func (f *insightsFlags) runInsights(cmd *cobra.Command, args []string) error {
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

	result, err := a.Insights(cmd.Context(), insights.Request{
		Text:       text,
		Filename:   f.file,
		PageNumber: f.page,
		K:          f.k,
		IncludeWeb: f.web,
		WebK:       f.webK,
	})
	if err != nil {
		return err
	}

	printInsights(out, result)
	return nil
}

type crossInsightsFlags struct {
	maxPerDoc int
	deep      bool
	focus     string
}

func newCrossInsightsCmd() *cobra.Command {
	var flags crossInsightsFlags

	cmd := &cobra.Command{
		Use:   "cross <filename> <filename>...",
		Short: "Compare claims across library documents",
		Long:  `Extract claims from each document and report where the documents agree and where they contradict each other`,
		Args:  cobra.MinimumNArgs(2),
		RunE:  flags.runCrossInsights,
	}

	cmd.Flags().IntVar(&flags.maxPerDoc, "max-per-doc", 0, "Passages to draw from each document")
	cmd.Flags().BoolVar(&flags.deep, "deep", false, "Read entire documents instead of sampled passages")
	cmd.Flags().StringVar(&flags.focus, "focus", "", "Steer the comparison toward a topic")

	return cmd
}

func (f *crossInsightsFlags) runCrossInsights(cmd *cobra.Command, args []string) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	a, _, err := newApp(cmd)
	if err != nil {
		return err
	}
	recoverState(cmd, a)

	result, err := a.CrossInsights(cmd.Context(), insights.CrossRequest{
		Filenames: args,
		MaxPerDoc: f.maxPerDoc,
		Deep:      f.deep,
		Focus:     f.focus,
	})
	if err != nil {
		return err
	}

	printClaims(out, "Agreements:", result.Agreements)
	printClaims(out, "Contradictions:", result.Contradictions)
	return nil
}

func printInsights(out *cli.Printer, result *insights.Insights) {
	out.PrintHeading("Summary:")
	out.Println("  " + result.Summary)

	printList(out, "Insights:", result.Insights)
	printList(out, "Facts:", result.Facts)
	printList(out, "Contradictions:", result.Contradictions)

	if len(result.Citations) > 0 {
		out.PrintHeading("Citations:")
		for i, citation := range result.Citations {
			location := citation.Filename
			if citation.PageNumber > 0 {
				location = fmt.Sprintf("%s p.%d", citation.Filename, citation.PageNumber)
			}
			out.Printf("  [%d] %s: %s\n", i+1, location, excerpt(citation.Snippet, 120))
		}
	}
}

func printList(out *cli.Printer, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	out.PrintHeading(heading)
	for _, item := range items {
		out.Println("  - " + item)
	}
}

func printClaims(out *cli.Printer, heading string, claims []insights.Claim) {
	out.PrintHeading(heading)
	if len(claims) == 0 {
		out.Println("  (none)")
		return
	}
	for _, claim := range claims {
		out.Println("  - " + claim.Claim)
		for _, source := range claim.Sources {
			out.Println("      " + source)
		}
	}
}
