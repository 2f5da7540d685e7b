package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hotovec/mails/internal/build"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build every email of a project",
	Long: `Build cleans the project's output directory, compiles every page,
bundles the stylesheet, optimizes images and writes the documents.

With --production the stylesheet is purged of unused rules and inlined
into every document; otherwise the documents link the bundle.

Examples:
  mails build                       # Build the default project
  mails build --project spring      # Build projects/spring into dist/spring
  mails build --production          # Inline styles for sending`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	report, err := a.builder.Build(ctx)
	if err != nil {
		return err
	}
	printBuildSummary(cmd.OutOrStdout(), a.builder, report)
	return nil
}

func printBuildSummary(w io.Writer, b *build.Builder, report *build.RunReport) {
	state := b.State()
	printSuccess(w, fmt.Sprintf("Built %d documents into %s in %s",
		len(state.Written()), b.Layout().Dst, report.Duration.Round(time.Millisecond)))
	if pageErrors := state.PageErrors(); pageErrors.HasErrors() {
		printWarning(w, fmt.Sprintf("%d pages skipped", pageErrors.Len()))
		for _, err := range pageErrors.Errors() {
			fmt.Fprintln(w, styleDim.Render("  "+err.Error()))
		}
	}
}
