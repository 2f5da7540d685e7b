package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Build and zip every email with its images",
	Long: `Package builds the project and writes one zip per email into the output
directory. Each archive holds the document and the images it references,
under a folder named after the email. Nested emails get a flattened name:
promo/sale.html is zipped as promo-sale.zip.

Examples:
  mails package --production        # Zip inlined emails for hand-off`,
	RunE: runPackage,
}

func init() {
	rootCmd.AddCommand(packageCmd)
}

func runPackage(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	bundles, err := a.builder.Package(ctx)
	if err != nil {
		return err
	}
	printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Wrote %d archives", len(bundles)))
	for _, name := range bundles {
		fmt.Fprintln(cmd.OutOrStdout(), styleDim.Render("  "+name))
	}
	return nil
}
