package build

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/publish"
	"github.com/hotovec/mails/internal/watcher"
)

// Pipeline names.
const (
	PipelineBuild   = "build"
	PipelineServe   = "serve"
	PipelinePackage = "package"
	PipelineLitmus  = "litmus"
	PipelineMail    = "mail"
)

// Build runs the whole graph.
func (b *Builder) Build(ctx context.Context) (*RunReport, error) {
	return b.Run(ctx, PipelineBuild)
}

// Server is the live-reload preview server.
type Server interface {
	Reloader
	ListenAndServe(ctx context.Context) error
}

// Serve builds, starts srv and rebuilds on every source change until ctx
// is done. Only a failed initial build or a server failure ends it early.
func (b *Builder) Serve(ctx context.Context, srv Server) error {
	if _, err := b.Build(ctx); err != nil {
		return err
	}

	classifier := watcher.NewClassifier(b.layout, b.cfg.Paths.Include)
	fw, err := watcher.NewFileWatcher(b.cfg.Watch.Debounce, b.logger)
	if err != nil {
		return err
	}
	fw.AddFilter(classifier.Filter())
	for _, root := range append([]string{b.layout.Src}, b.cfg.Paths.Include...) {
		if _, err := os.Stat(root); err != nil {
			b.logger.Warn(ctx, err, "Not watching missing directory", "dir", root)
			continue
		}
		if err := fw.AddRecursive(root); err != nil {
			return errors.NewWatcherError(err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		events := fw.Start(gctx)
		b.logger.Info(gctx, "Watching for changes", "dir", b.layout.Src)
		return NewRebuilder(b, classifier, srv, b.logger).Run(gctx, events)
	})
	return g.Wait()
}

// Package builds and writes one zip bundle per document.
func (b *Builder) Package(ctx context.Context) ([]string, error) {
	if _, err := b.Build(ctx); err != nil {
		return nil, err
	}
	bundles, err := publish.Bundle(ctx, b.layout.Dst, b.logger)
	b.metrics.IncBuild(PipelinePackage, err)
	return bundles, err
}

// Collaborators create the external services of the publish pipelines
// from the loaded credentials.
type Collaborators struct {
	Store  func(*config.AWSCredentials) (publish.ObjectStore, error)
	Tester func(*config.LitmusCredentials) (publish.RenderTester, error)
	Mailer func(*config.MailSettings) (publish.Mailer, error)
}

// DefaultCollaborators talk to S3, Litmus and an SMTP relay.
func DefaultCollaborators() Collaborators {
	return Collaborators{
		Store: func(c *config.AWSCredentials) (publish.ObjectStore, error) {
			return publish.NewS3Store(c, publish.S3Options{})
		},
		Tester: func(c *config.LitmusCredentials) (publish.RenderTester, error) {
			return publish.NewLitmusClient(c, nil)
		},
		Mailer: func(c *config.MailSettings) (publish.Mailer, error) {
			return publish.NewSMTPMailer(c.SMTP)
		},
	}
}

// Litmus builds, uploads images and submits every document for render
// testing.
func (b *Builder) Litmus(ctx context.Context, collab Collaborators) error {
	err := b.litmus(ctx, collab)
	b.metrics.IncBuild(PipelineLitmus, err)
	return err
}

func (b *Builder) litmus(ctx context.Context, collab Collaborators) error {
	creds, err := b.buildWithCredentials(ctx)
	if err != nil {
		return err
	}
	if creds.Litmus == nil {
		return errors.NewConfigError(errors.ErrCodeCredentials, "credentials file has no litmus section", nil)
	}
	tester, err := collab.Tester(creds.Litmus)
	if err != nil {
		return err
	}
	docs, err := b.uploadImages(ctx, collab, creds)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		result, err := tester.Submit(ctx, publish.RenderRequest{
			Name:    doc.Name,
			Subject: doc.Title(),
			HTML:    publish.RewriteImageURLs(doc.HTML, creds.ImageBaseURL()),
		})
		if err != nil {
			return err
		}
		b.logger.Info(ctx, "Submitted for render testing", "document", doc.Path, "test", result.ID)
	}
	return nil
}

// Mail builds, uploads images and sends every document as a sample
// email. A non-empty --to replaces the configured recipients.
func (b *Builder) Mail(ctx context.Context, collab Collaborators) error {
	err := b.mail(ctx, collab)
	b.metrics.IncBuild(PipelineMail, err)
	return err
}

func (b *Builder) mail(ctx context.Context, collab Collaborators) error {
	creds, err := b.buildWithCredentials(ctx)
	if err != nil {
		return err
	}
	if creds.Mail == nil {
		return errors.NewConfigError(errors.ErrCodeCredentials, "credentials file has no mail section", nil)
	}

	settings := *creds.Mail
	if b.cfg.MailTo != "" {
		settings.To = []string{b.cfg.MailTo}
	}
	mailer, err := collab.Mailer(&settings)
	if err != nil {
		return err
	}
	docs, err := b.uploadImages(ctx, collab, creds)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		subject := settings.Subject
		if subject == "" {
			subject = doc.Title()
		}
		err := mailer.Send(ctx, publish.Message{
			From:    settings.From,
			To:      settings.To,
			Subject: subject,
			HTML:    publish.RewriteImageURLs(doc.HTML, creds.ImageBaseURL()),
		})
		if err != nil {
			return err
		}
		b.logger.Info(ctx, "Sent sample email", "document", doc.Path, "to", settings.To)
	}
	return nil
}

// buildWithCredentials runs the build and loads the credentials file.
// Nothing touches the network before the file has been read.
func (b *Builder) buildWithCredentials(ctx context.Context) (*config.Credentials, error) {
	if _, err := b.Build(ctx); err != nil {
		return nil, err
	}
	return config.LoadCredentials(b.cfg.Credentials.Path)
}

// uploadImages uploads the built images when aws credentials are present
// and loads the documents to submit. Callers validate their own
// credentials section and create their client first, so a configuration
// problem never leaves a half-finished upload behind.
func (b *Builder) uploadImages(ctx context.Context, collab Collaborators, creds *config.Credentials) ([]*publish.Document, error) {
	if creds.AWS != nil {
		store, err := collab.Store(creds.AWS)
		if err != nil {
			return nil, err
		}
		if err := publish.UploadImages(ctx, store, b.layout.DstImagesDir(), b.state.Images(), b.logger); err != nil {
			return nil, err
		}
	} else {
		b.logger.Warn(ctx, nil, "No aws credentials, images are not uploaded and references are not rewritten")
	}

	return publish.LoadDocuments(b.layout.Dst)
}
