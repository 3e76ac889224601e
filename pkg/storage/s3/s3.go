// Package s3 handles object storage operations for site backups.
package s3

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/metrics"
)

// API is the part of the S3 SDK client this package calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner signs GetObject requests.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Factory builds SDK clients from storage settings. It is called once per operation.
type Factory func(ctx context.Context, cfg config.StorageConfig) (API, Presigner, error)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Client performs object storage operations against an S3-compatible bucket. A client for the
// local provider refuses every operation with backuperr.ErrStorageDisabled.
type Client struct {
	cfg      config.StorageConfig
	factory  Factory
	disabled bool
	log      zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithFactory replaces the SDK client factory.
func WithFactory(f Factory) Option {
	return func(c *Client) {
		c.factory = f
	}
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient validates the storage settings and returns a client. No SDK client is built here.
func NewClient(cfg config.StorageConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		factory: NewSDKClients,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.IsLocal() {
		c.disabled = true
		return c, nil
	}

	if cfg.AccessKey == "" {
		return nil, backuperr.NewConfigurationError("S3_ACCESS_KEY", "is required for provider "+cfg.Provider)
	}
	if cfg.SecretKey == "" {
		return nil, backuperr.NewConfigurationError("S3_SECRET_KEY", "is required for provider "+cfg.Provider)
	}
	if cfg.Bucket == "" {
		return nil, backuperr.NewConfigurationError("S3_BUCKET", "is required for provider "+cfg.Provider)
	}
	return c, nil
}

// Enabled reports whether remote operations are possible.
func (c *Client) Enabled() bool {
	return !c.disabled
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// ObjectKey applies the configured path prefix to key.
func (c *Client) ObjectKey(key string) string {
	prefix := strings.Trim(c.cfg.Prefix, "/")
	full := path.Join(prefix, strings.TrimLeft(key, "/"))
	return strings.TrimPrefix(full, "/")
}

func (c *Client) clients(ctx context.Context) (API, Presigner, error) {
	if c.disabled {
		return nil, nil, backuperr.ErrStorageDisabled
	}
	api, presigner, err := c.factory(ctx, c.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	return api, presigner, nil
}

// Upload stores the file at localPath under key.
func (c *Client) Upload(ctx context.Context, localPath, key string) error {
	api, _, err := c.clients(ctx)
	if err != nil {
		return err
	}

	startTime := time.Now()
	objectKey := c.ObjectKey(key)

	file, err := os.Open(localPath)
	if err != nil {
		metrics.UploadCount.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to open backup file for upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		metrics.UploadCount.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to stat backup file: %w", err)
	}

	c.log.Debug().Str("bucket", c.cfg.Bucket).Str("key", objectKey).
		Str("size", humanize.Bytes(uint64(info.Size()))).Msg("Uploading object")

	_, err = api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(objectKey),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		metrics.UploadCount.WithLabelValues("error").Inc()

		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			c.log.Error().Err(urlErr.Err).Str("url", urlErr.URL).Str("op", urlErr.Op).Msg("S3 transport error")
		}
		return fmt.Errorf("failed to upload backup to S3: %w", err)
	}

	metrics.UploadDuration.Observe(time.Since(startTime).Seconds())
	metrics.UploadCount.WithLabelValues("success").Inc()

	c.log.Info().Str("bucket", c.cfg.Bucket).Str("key", objectKey).Msg("Uploaded backup")
	return nil
}

// Download streams the object at key into localPath.
func (c *Client) Download(ctx context.Context, key, localPath string) error {
	api, _, err := c.clients(ctx)
	if err != nil {
		return err
	}

	objectKey := c.ObjectKey(key)
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", objectKey, err)
	}
	defer out.Body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	n, err := io.Copy(file, out.Body)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(localPath)
		return fmt.Errorf("failed to download %s: %w", objectKey, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(localPath)
		return fmt.Errorf("failed to close %s: %w", localPath, err)
	}

	c.log.Info().Str("key", objectKey).Str("size", humanize.Bytes(uint64(n))).Msg("Downloaded backup")
	return nil
}

// Delete removes the object at key.
func (c *Client) Delete(ctx context.Context, key string) error {
	api, _, err := c.clients(ctx)
	if err != nil {
		return err
	}

	objectKey := c.ObjectKey(key)
	if _, err := api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectKey, err)
	}

	c.log.Info().Str("key", objectKey).Msg("Deleted backup object")
	return nil
}

// Head returns the object's metadata, or nil without error when it does not exist.
func (c *Client) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	api, _, err := c.clients(ctx)
	if err != nil {
		return nil, err
	}

	objectKey := c.ObjectKey(key)
	out, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", objectKey, err)
	}

	info := &ObjectInfo{Key: objectKey}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	return info, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// NewSDKClients builds an S3 client and presigner from storage settings.
func NewSDKClients(ctx context.Context, cfg config.StorageConfig) (API, Presigner, error) {
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("AWS SDK config initialization error: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return client, s3.NewPresignClient(client), nil
}

func newHTTPClient(cfg config.StorageConfig) (*http.Client, error) {
	if cfg.CustomCAPath == "" && !cfg.SkipCertValidation {
		return &http.Client{}, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CustomCAPath != "" && !cfg.SkipCertValidation {
		rootCAs, _ := x509.SystemCertPool()
		if rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}

		caCert, err := os.ReadFile(cfg.CustomCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read custom CA certificate: %w", err)
		}
		if ok := rootCAs.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("failed to append custom CA certificate")
		}
		tlsConfig.RootCAs = rootCAs
	}

	if cfg.SkipCertValidation {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- opt-in for self-signed storage endpoints
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport}, nil
}
