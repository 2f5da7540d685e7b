package build

import (
	"archive/zip"
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/publish"
)

type fakeStore struct {
	mutex sync.Mutex
	keys  []string
	types map[string]string
}

func (s *fakeStore) Put(_ context.Context, key string, _ []byte, contentType string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.keys = append(s.keys, key)
	if s.types == nil {
		s.types = make(map[string]string)
	}
	s.types[key] = contentType
	return nil
}

type fakeTester struct {
	requests []publish.RenderRequest
	err      error
}

func (f *fakeTester) Submit(_ context.Context, req publish.RenderRequest) (*publish.RenderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &publish.RenderResult{ID: "test-1"}, nil
}

type fakeMailer struct {
	messages []publish.Message
}

func (f *fakeMailer) Send(_ context.Context, msg publish.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

type fakes struct {
	store   *fakeStore
	tester  *fakeTester
	mailer  *fakeMailer
	created []string
}

func (f *fakes) collaborators() Collaborators {
	return Collaborators{
		Store: func(*config.AWSCredentials) (publish.ObjectStore, error) {
			f.created = append(f.created, "store")
			return f.store, nil
		},
		Tester: func(*config.LitmusCredentials) (publish.RenderTester, error) {
			f.created = append(f.created, "tester")
			return f.tester, nil
		},
		Mailer: func(settings *config.MailSettings) (publish.Mailer, error) {
			f.created = append(f.created, "mailer:"+settings.To[0])
			return f.mailer, nil
		},
	}
}

func newFakes() *fakes {
	return &fakes{store: &fakeStore{}, tester: &fakeTester{}, mailer: &fakeMailer{}}
}

func writeCredentials(t *testing.T, cfg *config.Config, creds config.Credentials) {
	t.Helper()
	data, err := json.Marshal(creds)
	require.NoError(t, err)
	cfg.Credentials.Path = filepath.Join(t.TempDir(), "config.json")
	writeFile(t, cfg.Credentials.Path, string(data))
}

func newPublishProject(t *testing.T) *config.Config {
	t.Helper()
	cfg := newTestProject(t)
	writeFile(t, filepath.Join(cfg.Layout().PagesDir(), "welcome.html"),
		"---\ntitle: Welcome\n---\n<p>Hi</p><img src=\"assets/img/logo.png\">")
	return cfg
}

var fullCredentials = config.Credentials{
	AWS: &config.AWSCredentials{Key: "k", Secret: "s", Bucket: "mails", URL: "https://cdn.example.com/mails"},
	Litmus: &config.LitmusCredentials{
		Username: "u", Password: "p", URL: "https://acme.litmus.com",
	},
	Mail: &config.MailSettings{
		To:   []string{"team@example.com"},
		From: "mails@example.com",
		SMTP: config.SMTPSettings{Host: "smtp.example.com"},
	},
}

func TestLitmusUploadsAndSubmitsEveryDocument(t *testing.T) {
	cfg := newPublishProject(t)
	writeCredentials(t, cfg, fullCredentials)
	f := newFakes()

	require.NoError(t, newTestBuilder(t, cfg).Litmus(context.Background(), f.collaborators()))

	assert.Equal(t, []string{"logo.png"}, f.store.keys)
	assert.Equal(t, "image/png", f.store.types["logo.png"])

	require.Len(t, f.tester.requests, 2)
	byName := make(map[string]publish.RenderRequest)
	for _, req := range f.tester.requests {
		byName[req.Name] = req
	}
	welcome := byName["welcome"]
	assert.Equal(t, "Welcome", welcome.Subject)
	assert.Contains(t, string(welcome.HTML), `src="https://cdn.example.com/mails/logo.png"`)
	assert.Contains(t, byName, "promo/sale")

	built := readFile(t, filepath.Join(cfg.Layout().Dst, "welcome.html"))
	assert.Contains(t, built, `src="assets/img/logo.png"`, "the build output is not rewritten")
}

func TestMailOverridesRecipients(t *testing.T) {
	cfg := newPublishProject(t)
	cfg.MailTo = "me@example.com"
	writeCredentials(t, cfg, fullCredentials)
	f := newFakes()

	require.NoError(t, newTestBuilder(t, cfg).Mail(context.Background(), f.collaborators()))

	assert.Contains(t, f.created, "mailer:me@example.com")
	require.Len(t, f.mailer.messages, 2)
	for _, msg := range f.mailer.messages {
		assert.Equal(t, []string{"me@example.com"}, msg.To)
		assert.Equal(t, "mails@example.com", msg.From)
	}

	subjects := []string{f.mailer.messages[0].Subject, f.mailer.messages[1].Subject}
	sort.Strings(subjects)
	assert.Equal(t, []string{"Sale", "Welcome"}, subjects)
	assert.Equal(t, []string{"team@example.com"}, fullCredentials.Mail.To, "settings are copied, not mutated")
}

func TestPublishWithoutCredentialsFileFailsBeforeNetwork(t *testing.T) {
	cfg := newPublishProject(t)
	cfg.Credentials.Path = filepath.Join(t.TempDir(), "missing.json")
	f := newFakes()

	err := newTestBuilder(t, cfg).Litmus(context.Background(), f.collaborators())
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
	assert.Empty(t, f.created, "no collaborator is created")
	assert.FileExists(t, filepath.Join(cfg.Layout().Dst, "welcome.html"), "the build itself ran")
}

func TestPublishMissingSection(t *testing.T) {
	cfg := newPublishProject(t)
	writeCredentials(t, cfg, config.Credentials{AWS: fullCredentials.AWS})
	f := newFakes()
	b := newTestBuilder(t, cfg)

	err := b.Litmus(context.Background(), f.collaborators())
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	err = b.Mail(context.Background(), f.collaborators())
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	assert.Empty(t, f.created, "no collaborator is created")
	assert.Empty(t, f.store.keys, "no image is uploaded")
}

func TestPublishClientFailureStopsBeforeUpload(t *testing.T) {
	tests := []struct {
		name string
		run  func(*Builder, context.Context, Collaborators) error
		fail func(*Collaborators)
	}{
		{
			name: "mail",
			run:  (*Builder).Mail,
			fail: func(c *Collaborators) {
				c.Mailer = func(*config.MailSettings) (publish.Mailer, error) {
					return nil, errors.NewConfigError(errors.ErrCodeCredentials, "mail.smtp.host is required", nil)
				}
			},
		},
		{
			name: "litmus",
			run:  (*Builder).Litmus,
			fail: func(c *Collaborators) {
				c.Tester = func(*config.LitmusCredentials) (publish.RenderTester, error) {
					return nil, errors.NewConfigError(errors.ErrCodeCredentials, "litmus.url is invalid", nil)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newPublishProject(t)
			writeCredentials(t, cfg, fullCredentials)
			f := newFakes()
			collab := f.collaborators()
			tt.fail(&collab)

			err := tt.run(newTestBuilder(t, cfg), context.Background(), collab)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
			assert.NotContains(t, f.created, "store")
			assert.Empty(t, f.store.keys)
		})
	}
}

func TestPublishWithoutAWSKeepsRelativeImages(t *testing.T) {
	cfg := newPublishProject(t)
	writeCredentials(t, cfg, config.Credentials{Litmus: fullCredentials.Litmus})
	f := newFakes()

	require.NoError(t, newTestBuilder(t, cfg).Litmus(context.Background(), f.collaborators()))
	assert.NotContains(t, f.created, "store")
	for _, req := range f.tester.requests {
		if req.Name == "welcome" {
			assert.Contains(t, string(req.HTML), `src="assets/img/logo.png"`)
		}
	}
}

func TestLitmusSubmitFailure(t *testing.T) {
	cfg := newPublishProject(t)
	writeCredentials(t, cfg, fullCredentials)
	f := newFakes()
	f.tester.err = errors.NewExternalError(errors.ErrCodeRenderTest, "rejected", stderrors.New("401"))

	err := newTestBuilder(t, cfg).Litmus(context.Background(), f.collaborators())
	require.Error(t, err)
	assert.False(t, errors.IsConfig(err))
}

func TestPackageWritesOneBundlePerDocument(t *testing.T) {
	cfg := newPublishProject(t)
	b := newTestBuilder(t, cfg)

	bundles, err := b.Package(context.Background())
	require.NoError(t, err)

	dst := cfg.Layout().Dst
	require.Equal(t, []string{
		filepath.Join(dst, "promo-sale.zip"),
		filepath.Join(dst, "welcome.zip"),
	}, bundles, "nested documents get a flattened archive name")

	zr, err := zip.OpenReader(bundles[1])
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"welcome/welcome.html", "welcome/assets/img/logo.png"}, names)
}
