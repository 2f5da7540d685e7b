package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	mailerrors "github.com/hotovec/mails/internal/errors"
)

// Credentials is the publish credentials file. It is only ever read.
type Credentials struct {
	AWS    *AWSCredentials    `json:"aws,omitempty"`
	Litmus *LitmusCredentials `json:"litmus,omitempty"`
	Mail   *MailSettings      `json:"mail,omitempty"`
}

// AWSCredentials configure the object store used for images.
type AWSCredentials struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
	Region string `json:"region"`
	Bucket string `json:"bucket"`
	// URL is the public base URL image references are rewritten to.
	URL string `json:"url,omitempty"`
}

// LitmusCredentials configure the render-test service.
type LitmusCredentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URL      string   `json:"url"`
	Subject  string   `json:"subject,omitempty"`
	Clients  []string `json:"applications,omitempty"`
}

// MailSettings configure the sample email.
type MailSettings struct {
	To      []string     `json:"to"`
	From    string       `json:"from"`
	Subject string       `json:"subject,omitempty"`
	SMTP    SMTPSettings `json:"smtp"`
}

// SMTPSettings locate the mail relay.
type SMTPSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user,omitempty"`
	Pass string `json:"pass,omitempty"`
}

// ImageBaseURL returns the configured public image URL, if any.
func (c *Credentials) ImageBaseURL() string {
	if c == nil || c.AWS == nil {
		return ""
	}
	return c.AWS.URL
}

// LoadCredentials reads the credentials file at path. A missing or
// malformed file is a configuration error.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mailerrors.NewConfigError(mailerrors.ErrCodeCredentials,
			fmt.Sprintf("cannot read credentials file %s", path), err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, mailerrors.NewConfigError(mailerrors.ErrCodeCredentials,
			fmt.Sprintf("cannot parse credentials file %s", path), err)
	}

	if creds.AWS != nil && creds.AWS.URL != "" {
		if err := validateURL(creds.AWS.URL); err != nil {
			return nil, mailerrors.NewConfigError(mailerrors.ErrCodeCredentials, "aws.url", err)
		}
	}
	if creds.Litmus != nil && creds.Litmus.URL != "" {
		if err := validateURL(creds.Litmus.URL); err != nil {
			return nil, mailerrors.NewConfigError(mailerrors.ErrCodeCredentials, "litmus.url", err)
		}
	}

	return &creds, nil
}

// validateURL accepts absolute http and https URLs. Image references are
// rewritten to aws.url verbatim, so quotes and whitespace are rejected.
func validateURL(rawURL string) error {
	if strings.ContainsAny(rawURL, "\"'<> \t\r\n") {
		return fmt.Errorf("URL %q contains a quote, bracket or whitespace", rawURL)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q has no host", rawURL)
	}
	return nil
}
