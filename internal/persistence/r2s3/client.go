// Package r2s3 mirrors finished data files (snapshots, rotated journals) to
// an S3-compatible bucket such as Cloudflare R2.
package r2s3

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores one local file under an object key.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type Client struct {
	bucket string
	s3     *s3.Client
}

// New builds a path-style S3 client for endpoint. R2 ignores the region, so
// "auto" is used.
func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	fields := []struct{ name, val string }{
		{"endpoint", endpoint},
		{"bucket", bucket},
		{"access key id", accessKeyID},
		{"secret access key", secretAccessKey},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("r2s3: missing %s", strings.Join(missing, ", "))
	}
	base, err := endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	accessKeyID = strings.TrimSpace(accessKeyID)
	secretAccessKey = strings.TrimSpace(secretAccessKey)

	cl := s3.New(s3.Options{
		Region:           "auto",
		Credentials:      credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		EndpointResolver: s3.EndpointResolverFromURL(base),
		UsePathStyle:     true,
	})
	return &Client{bucket: strings.TrimSpace(bucket), s3: cl}, nil
}

// endpointURL accepts a bare host ("acct.r2.cloudflarestorage.com") or a URL
// and returns it without a trailing slash.
func endpointURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("r2s3: endpoint %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("r2s3: endpoint %q: want http(s)://host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	key := normalizeObjectKey(objectKey)
	if key == "" {
		return fmt.Errorf("r2s3: object key %q is empty after normalisation", objectKey)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if st, err := f.Stat(); err != nil {
		return err
	} else if !st.Mode().IsRegular() {
		return fmt.Errorf("r2s3: %s is not a regular file", localPath)
	}

	if _, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(key)),
	}); err != nil {
		return fmt.Errorf("r2s3: put %s: %w", key, err)
	}
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".jsonl"):
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// normalizeObjectKey turns a relative path into a bucket key: forward
// slashes, no leading slash, no ".." escaping the prefix.
func normalizeObjectKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return ""
	}
	return clean
}
