package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hotovec/mails/internal/build"
)

var litmusCmd = &cobra.Command{
	Use:   "litmus",
	Short: "Submit every email for render tests",
	Long: `Litmus builds the project, uploads its images to the object store and
submits every document to Litmus. Image references are rewritten to the
public image URL from the credentials file.

Examples:
  mails litmus --production                   # Test the inlined emails
  mails litmus --credentials secrets.json     # Use another credentials file`,
	RunE: runLitmus,
}

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Send a sample of every email",
	Long: `Mail builds the project, uploads its images and sends every document
through the SMTP relay from the credentials file. --to replaces the
configured recipients.

Examples:
  mails mail --production --to me@example.com`,
	RunE: runMail,
}

// collaborators is swapped in tests.
var collaborators = build.DefaultCollaborators

func init() {
	rootCmd.AddCommand(litmusCmd)
	rootCmd.AddCommand(mailCmd)

	for _, c := range []*cobra.Command{litmusCmd, mailCmd} {
		c.Flags().String("credentials", "", "credentials file (default from config)")
	}
}

func runLitmus(cmd *cobra.Command, _ []string) error {
	return runPublish(cmd, (*build.Builder).Litmus, "Submitted every email to Litmus")
}

func runMail(cmd *cobra.Command, _ []string) error {
	return runPublish(cmd, (*build.Builder).Mail, "Sent every email")
}

func runPublish(cmd *cobra.Command, pipeline func(*build.Builder, context.Context, build.Collaborators) error, done string) error {
	if f := cmd.Flags().Lookup("credentials"); f != nil && f.Changed {
		viper.Set("credentials.path", f.Value.String())
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := pipeline(a.builder, ctx, collaborators()); err != nil {
		return err
	}
	printSuccess(cmd.OutOrStdout(), done)
	return nil
}
