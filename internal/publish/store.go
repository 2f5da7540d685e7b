// Package publish delivers built documents to the outside world: images
// to an object store, documents to a render-test service or a mailbox,
// and per-document zip bundles.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/logging"
)

// CacheControl is sent with every uploaded object. Images are immutable
// once referenced from a sent email.
const CacheControl = "max-age=315360000, no-transform, public"

// ObjectStore stores publicly readable objects.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// S3Store is an ObjectStore backed by an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Options override client settings, mainly for S3 compatible services.
type S3Options struct {
	Endpoint     string
	UsePathStyle bool
}

// NewS3Store creates a store from the credentials file's aws section.
func NewS3Store(creds *config.AWSCredentials, opts S3Options) (*S3Store, error) {
	if creds == nil || creds.Bucket == "" {
		return nil, errors.NewConfigError(errors.ErrCodeCredentials, "aws credentials need a bucket", nil)
	}
	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}

	client := s3.New(s3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(creds.Key, creds.Secret, "")),
	}, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Store{client: client, bucket: creds.Bucket}, nil
}

// Put uploads one public-read object.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(CacheControl),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return errors.NewExternalError(errors.ErrCodeUpload, fmt.Sprintf("upload %s", key), err)
	}
	return nil
}

// UploadImages uploads files, relative to dir, under the same keys. The
// first failure stops the upload.
func UploadImages(ctx context.Context, store ObjectStore, dir string, files []string, logger logging.Logger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return errors.NewIOError(errors.ErrCodeUpload, fmt.Sprintf("read %s", rel), err)
		}
		if err := store.Put(ctx, rel, body, contentType(rel)); err != nil {
			return err
		}
		logger.Debug(ctx, "Uploaded image", "key", rel, "bytes", len(body))
	}
	logger.Info(ctx, "Uploaded images", "count", len(files))
	return nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
