// Package cmd provides the command-line interface for mails.
//
// Configuration is read from, highest priority first:
//
//  1. Command-line flags (--project, --production, --to, ...)
//  2. MAILS_* environment variables, including those loaded from .env
//  3. The config file: --config, else MAILS_CONFIG_FILE, else .mails.yml
//
// Nested keys map to environment variables by replacing dots with
// underscores, so server.port is MAILS_SERVER_PORT.
package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hotovec/mails/internal/build"
	"github.com/hotovec/mails/internal/config"
	mailerrors "github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/logging"
)

var (
	cfgFile string
	project = newProjectValue()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mails",
	Short: "Build, preview and publish HTML email templates",
	Long: `mails compiles email pages from layouts, partials and helpers, bundles
their stylesheet, optimizes images and, for production, inlines the CSS
into every document.

Quick Start:
  mails build                       Build the default project
  mails serve --project spring      Preview with live reload
  mails build --production          Build with inlined styles
  mails package --production        Zip every email with its images
  mails litmus --production         Submit every email for render tests
  mails mail --to me@example.com    Send a sample of every email`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		printDiagnostic(rootCmd.ErrOrStderr(), err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .mails.yml, can also use MAILS_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.VarP(project, "project", "p", "project directory under the projects root")
	flags.Bool("production", false, "purge and inline styles into every document")
	flags.String("to", "", "override the sample email recipients")

	for _, name := range []string{"log-level", "log-format", "project", "production", "to"} {
		bindFlag(name, flags.Lookup(name))
	}
}

// bindings maps config keys to the flags that override them.
var bindings = map[string]*pflag.Flag{}

func bindFlag(key string, f *pflag.Flag) {
	bindings[key] = f
	_ = viper.BindPFlag(key, f)
}

// initConfig loads .env, points viper at the config file and reads it.
// A missing default config file is fine; an unreadable one is not.
func initConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mailerrors.NewConfigError(mailerrors.ErrCodeConfigInvalid, "cannot read .env", err)
	}

	explicit := true
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("MAILS_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mails")
	}

	viper.SetEnvPrefix("MAILS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return nil
		}
		return mailerrors.NewConfigError(mailerrors.ErrCodeConfigInvalid, "cannot read config file", err)
	}
	return nil
}

// app is what every pipeline command needs: the validated configuration,
// a logger and a builder wired to a metrics registry.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *prometheus.Registry
	builder  *build.Builder
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, mailerrors.NewConfigError(mailerrors.ErrCodeConfigInvalid, "invalid configuration", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(viper.GetString("log-level"))
	logCfg.Format = viper.GetString("log-format")
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.NewLogger(logCfg)

	if !viper.IsSet("project") {
		printWarning(cmd.ErrOrStderr(), "No --project given, building "+config.DefaultProject)
	}

	reg := prometheus.NewRegistry()
	b, err := build.NewBuilder(cfg, build.Options{
		Metrics: build.NewMetrics(reg),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, registry: reg, builder: b}, nil
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
