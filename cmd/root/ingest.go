package root

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperwave/paperwave/pkg/cli"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ingest <pdf>...",
		Short:   "Ingest PDFs into the library and index",
		Long:    `Copy the given PDFs into the document library, extract their text, and index them for retrieval`,
		GroupID: "core",
		Example: `  paperwave ingest paper.pdf
  paperwave ingest papers/*.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngestCommand,
	}
}

func runIngestCommand(cmd *cobra.Command, args []string) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	a, _, err := newApp(cmd)
	if err != nil {
		return err
	}
	recoverState(cmd, a)

	indexed, failures := a.IngestPaths(cmd.Context(), args)

	for _, filename := range indexed {
		out.Println("Indexed " + filename)
	}
	for _, failure := range failures {
		out.PrintError(errors.New(failure))
	}

	if len(failures) > 0 {
		return RuntimeError{Err: fmt.Errorf("%d of %d documents failed", len(failures), len(args))}
	}
	return nil
}
