package publish

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
)

// RenderRequest is one document submitted for client rendering.
type RenderRequest struct {
	Name    string
	Subject string
	HTML    []byte
}

// RenderResult identifies the created test.
type RenderResult struct {
	ID string
}

// RenderTester submits documents to a render-test service.
type RenderTester interface {
	Submit(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

// LitmusClient talks to the Litmus email test API.
type LitmusClient struct {
	creds  config.LitmusCredentials
	client *http.Client
}

// NewLitmusClient creates a client. A nil httpClient gets a default with
// a timeout.
func NewLitmusClient(creds *config.LitmusCredentials, httpClient *http.Client) (*LitmusClient, error) {
	if creds == nil || creds.URL == "" || creds.Username == "" {
		return nil, errors.NewConfigError(errors.ErrCodeCredentials, "litmus credentials need url and username", nil)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &LitmusClient{creds: *creds, client: httpClient}, nil
}

type litmusApplication struct {
	Code string `xml:"code"`
}

type litmusTestSet struct {
	XMLName      xml.Name            `xml:"test_set"`
	Applications *litmusApplications `xml:"applications,omitempty"`
	SaveDefaults bool                `xml:"save_defaults"`
	UseDefaults  bool                `xml:"use_defaults"`
	EmailSource  litmusEmailSource   `xml:"email_source"`
}

type litmusApplications struct {
	Type  string              `xml:"type,attr"`
	Items []litmusApplication `xml:"application"`
}

type litmusEmailSource struct {
	Body    litmusCDATA `xml:"body"`
	Subject string      `xml:"subject"`
}

type litmusCDATA struct {
	Text string `xml:",cdata"`
}

type litmusResponse struct {
	ID string `xml:"id"`
}

// Submit creates one email test. The subject is the configured one, or
// the request's.
func (c *LitmusClient) Submit(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	subject := req.Subject
	if c.creds.Subject != "" {
		subject = c.creds.Subject
	}

	set := litmusTestSet{
		UseDefaults: len(c.creds.Clients) == 0,
		EmailSource: litmusEmailSource{
			Body:    litmusCDATA{Text: string(req.HTML)},
			Subject: subject,
		},
	}
	if len(c.creds.Clients) > 0 {
		set.Applications = &litmusApplications{Type: "array"}
		for _, code := range c.creds.Clients {
			set.Applications.Items = append(set.Applications.Items, litmusApplication{Code: code})
		}
	}

	payload, err := xml.Marshal(set)
	if err != nil {
		return nil, errors.NewExternalError(errors.ErrCodeRenderTest, "encode litmus request", err)
	}
	payload = append([]byte(xml.Header), payload...)

	endpoint := strings.TrimSuffix(c.creds.URL, "/") + "/emails.xml"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewExternalError(errors.ErrCodeRenderTest, "create litmus request", err)
	}
	httpReq.SetBasicAuth(c.creds.Username, c.creds.Password)
	httpReq.Header.Set("Content-Type", "application/xml")
	httpReq.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewExternalError(errors.ErrCodeRenderTest, "submit to litmus", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewExternalError(errors.ErrCodeRenderTest, "read litmus response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewExternalError(errors.ErrCodeRenderTest,
			fmt.Sprintf("litmus rejected %s", req.Name),
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed litmusResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, errors.NewExternalError(errors.ErrCodeRenderTest, "decode litmus response", err)
	}
	return &RenderResult{ID: parsed.ID}, nil
}
