package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PresignedDownloadURL creates a time-limited GET URL for key. When a custom domain is configured
// the URL's scheme and host are replaced; path and query, which carry the signature, are kept.
func (c *Client) PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	_, presigner, err := c.clients(ctx)
	if err != nil {
		return "", err
	}

	objectKey := c.ObjectKey(key)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	signed := req.URL
	if c.cfg.CustomDomain != "" {
		signed, err = rewriteHost(signed, c.cfg.CustomDomain)
		if err != nil {
			return "", err
		}
	}

	c.log.Debug().Str("key", objectKey).Dur("ttl", ttl).Msg("Generated presigned URL")
	return signed, nil
}

// rewriteHost swaps scheme and host of signed for those of domain. A bare host defaults to https.
func rewriteHost(signed, domain string) (string, error) {
	u, err := url.Parse(signed)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned URL: %w", err)
	}

	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	d, err := url.Parse(domain)
	if err != nil || d.Host == "" {
		return "", fmt.Errorf("invalid custom domain %q", domain)
	}

	u.Scheme = d.Scheme
	u.Host = d.Host
	return u.String(), nil
}
