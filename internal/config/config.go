// Package config provides configuration management for mails using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports YAML files (.mails.yml), environment
// variable overrides with the MAILS_ prefix, and validation. It manages the
// project layout, build options, the live-reload server and the watcher.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultProject is used when --project is not given.
const DefaultProject = "default"

type Config struct {
	Paths       PathsConfig       `mapstructure:"paths"`
	Build       BuildConfig       `mapstructure:"build"`
	Server      ServerConfig      `mapstructure:"server"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Credentials CredentialsConfig `mapstructure:"credentials"`

	// Set from the command line, never read from the config file.
	Project    string `mapstructure:"project"`
	Production bool   `mapstructure:"production"`
	MailTo     string `mapstructure:"to"`
}

type PathsConfig struct {
	Projects string   `mapstructure:"projects"`
	Dist     string   `mapstructure:"dist"`
	Include  []string `mapstructure:"include"`
}

type BuildConfig struct {
	Workers       int    `mapstructure:"workers"`
	DefaultLayout string `mapstructure:"default_layout"`
	Stylesheet    string `mapstructure:"stylesheet"`
	Bundle        string `mapstructure:"bundle"`
	Placeholder   string `mapstructure:"placeholder"`
	ImageCommand  string `mapstructure:"image_command"`
	// Sass is the path of a Dart Sass binary. Empty uses the built-in
	// preprocessor.
	Sass string `mapstructure:"sass"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type CredentialsConfig struct {
	Path string `mapstructure:"path"`
}

// setDefaults registers default values on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.projects", "projects")
	v.SetDefault("paths.dist", "dist")
	v.SetDefault("paths.include", []string{"node_modules/foundation-emails/scss"})
	v.SetDefault("build.workers", 4)
	v.SetDefault("build.default_layout", "default")
	v.SetDefault("build.stylesheet", "app.scss")
	v.SetDefault("build.bundle", "app")
	v.SetDefault("build.placeholder", "<!-- <style> -->")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("credentials.path", "config.json")
}

// Load reads the global viper instance into a Config.
func Load() (*Config, error) {
	return loadFrom(viper.GetViper())
}

// loadFrom reads v into a Config, applying defaults and validation.
func loadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through env vars arrive as a single string.
	if v.IsSet("paths.include") {
		config.Paths.Include = v.GetStringSlice("paths.include")
	}

	if config.Project == "" {
		config.Project = DefaultProject
	}
	if config.Build.Workers <= 0 {
		config.Build.Workers = 1
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Layout returns the resolved source and destination roots of the
// selected project.
func (c *Config) Layout() Layout {
	return NewLayout(c.Paths.Projects, c.Paths.Dist, c.Project)
}

// StylesheetHref is the link href the documents use for the bundle.
func (c *Config) StylesheetHref() string {
	return "css/" + c.Build.Bundle + ".css"
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := ValidateProjectName(config.Project); err != nil {
		return fmt.Errorf("project: %w", err)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	for _, p := range []string{config.Paths.Projects, config.Paths.Dist} {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("paths config: %w", err)
		}
	}

	if config.Build.Bundle == "" || strings.ContainsAny(config.Build.Bundle, `/\`) {
		return fmt.Errorf("build config: invalid bundle name %q", config.Build.Bundle)
	}
	if config.Build.Placeholder == "" {
		return fmt.Errorf("build config: placeholder must not be empty")
	}

	if config.Watch.Debounce < 0 {
		return fmt.Errorf("watch config: negative debounce %s", config.Watch.Debounce)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

// validatePath validates a root path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateProjectName rejects names that would escape the projects root.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("empty project name")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid project name %q", name)
	}
	return nil
}
