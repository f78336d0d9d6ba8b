package s3

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal"
	pxaws "github.com/turbolytics/pixelator/internal/aws"
)

type Option func(*Repository)

func WithRegion(region string) Option {
	return func(r *Repository) {
		r.Region = region
	}
}

func WithBucket(bucket string) Option {
	return func(r *Repository) {
		r.Bucket = bucket
	}
}

func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		r.Prefix = prefix
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

func WithForcePathStyle(forcePathStyle bool) Option {
	return func(r *Repository) {
		r.ForcePathStyle = forcePathStyle
	}
}

func WithEndpoint(endpoint string) Option {
	return func(r *Repository) {
		r.Endpoint = endpoint
	}
}

func WithCredentials(accessKey, secret string) Option {
	return func(r *Repository) {
		r.accessKey = accessKey
		r.secret = secret
	}
}

// WithACL sets the canned ACL applied to every written object.
func WithACL(acl string) Option {
	return func(r *Repository) {
		r.ACL = acl
	}
}

// WithPublicBaseURL overrides the address objects are served from, e.g. a CDN.
func WithPublicBaseURL(u string) Option {
	return func(r *Repository) {
		r.PublicBaseURL = strings.TrimRight(u, "/")
	}
}

type Repository struct {
	logger   *zap.Logger
	sess     *session.Session
	client   s3iface.S3API
	uploader *s3manager.Uploader

	accessKey string
	secret    string

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
	ACL            string
	PublicBaseURL  string
}

var _ internal.Repository = (*Repository)(nil)
var _ internal.Lister = (*Repository)(nil)
var _ internal.Reader = (*Repository)(nil)

func New(opts ...Option) (*Repository, error) {
	r := &Repository{
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(r)
	}

	if r.Bucket == "" {
		return nil, errors.New("s3 repository requires a bucket")
	}

	if r.sess == nil {
		sess, err := pxaws.NewSession(pxaws.SessionConfig{
			Endpoint:       r.Endpoint,
			Region:         r.Region,
			AccessKey:      r.accessKey,
			Secret:         r.secret,
			ForcePathStyle: r.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		r.sess = sess
	}

	r.client = awss3.New(r.sess)
	r.uploader = s3manager.NewUploaderWithClient(r.client)

	return r, nil
}

func (r *Repository) objectKey(key string) string {
	return path.Join(r.Prefix, key)
}

func (r *Repository) Write(ctx context.Context, key string, reader io.Reader, contentType string) error {
	objPath := r.objectKey(key)

	r.logger.Debug(
		"S3 write",
		zap.String("key", key),
		zap.String("prefix", r.Prefix),
		zap.String("object_path", objPath),
		zap.String("bucket", r.Bucket),
	)

	in := &s3manager.UploadInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(objPath),
		Body:   bufio.NewReader(reader),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if r.ACL != "" {
		in.ACL = aws.String(r.ACL)
	}

	_, err := r.uploader.UploadWithContext(ctx, in)
	return err
}

func (r *Repository) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.HeadObjectWithContext(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}

	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (r *Repository) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := r.client.GetObjectWithContext(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (r *Repository) List(ctx context.Context, prefix string) ([]internal.Object, error) {
	var objects []internal.Object
	err := r.client.ListObjectsV2PagesWithContext(ctx, &awss3.ListObjectsV2Input{
		Bucket: aws.String(r.Bucket),
		Prefix: aws.String(r.objectKey(prefix)),
	}, func(page *awss3.ListObjectsV2Output, last bool) bool {
		for _, o := range page.Contents {
			objects = append(objects, internal.Object{
				Key:          strings.TrimPrefix(strings.TrimPrefix(aws.StringValue(o.Key), r.Prefix), "/"),
				Size:         aws.Int64Value(o.Size),
				LastModified: aws.TimeValue(o.LastModified),
			})
		}
		return true
	})
	return objects, err
}

func (r *Repository) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObjectWithContext(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	return err
}

// URL returns the public address of key. Without a public base URL it is
// derived from the endpoint the way virtual-hosted (or path style) buckets
// are addressed.
func (r *Repository) URL(key string) string {
	objPath := r.objectKey(key)
	if r.PublicBaseURL != "" {
		return r.PublicBaseURL + "/" + objPath
	}

	host := fmt.Sprintf("s3.%s.amazonaws.com", r.Region)
	scheme := "https"
	if r.Endpoint != "" {
		if u, err := url.Parse(r.Endpoint); err == nil && u.Host != "" {
			host = u.Host
			scheme = u.Scheme
		} else {
			host = strings.TrimPrefix(strings.TrimPrefix(r.Endpoint, "https://"), "http://")
		}
	}

	if r.ForcePathStyle {
		return fmt.Sprintf("%s://%s/%s/%s", scheme, host, r.Bucket, objPath)
	}
	return fmt.Sprintf("%s://%s.%s/%s", scheme, r.Bucket, host, objPath)
}
