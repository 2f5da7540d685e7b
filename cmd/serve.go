package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hotovec/mails/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Build, preview and rebuild on every change",
	Long: `Serve builds the project, serves the output directory with live reload
and watches the sources. Each batch of changes rebuilds only the affected
tasks and reloads connected browsers once.

Examples:
  mails serve                       # Preview the default project
  mails serve --project spring      # Preview projects/spring
  mails serve --port 8080           # Listen on another port`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 3000, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Duration("debounce", 0, "Quiet period before a rebuild (default from config)")

	bindFlag("server.port", serveCmd.Flags().Lookup("port"))
	bindFlag("server.host", serveCmd.Flags().Lookup("host"))
	bindFlag("watch.debounce", serveCmd.Flags().Lookup("debounce"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	srv := server.New(a.cfg.Server, a.builder.Layout(), server.Options{
		Gatherer: a.registry,
		Logger:   a.logger,
	})
	printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Serving %s at http://%s:%d",
		a.builder.Layout().Project, a.cfg.Server.Host, a.cfg.Server.Port))

	return a.builder.Serve(ctx, srv)
}
