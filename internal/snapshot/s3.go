package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	S3UploadTimeout   = 60 * time.Second
	S3DownloadTimeout = 30 * time.Second
)

var (
	regionDotPattern    = regexp.MustCompile(`s3\.([a-z]{2}-[a-z]+-\d+)\.amazonaws\.com`)
	regionHyphenPattern = regexp.MustCompile(`s3-([a-z]{2}-[a-z]+-\d+)\.amazonaws\.com`)
)

// S3Target keeps a snapshot as one object in an S3-compatible bucket.
type S3Target struct {
	client *minio.Client
	bucket string
	key    string
	raw    string
	logger *slog.Logger
}

// NewS3Target connects to the endpoint of uri and checks that the bucket
// exists. The token is ACCESS_KEY:SECRET_KEY; when empty the AWS
// environment variables are used, or anonymous access for IAM roles.
func NewS3Target(ctx context.Context, uri *URI, token string, logger *slog.Logger) (*S3Target, error) {
	if !uri.IsS3() {
		return nil, fmt.Errorf("expected S3 URI, got scheme: %s", uri.Scheme)
	}
	accessKey, secretKey, err := ParseS3Token(token)
	if err != nil {
		return nil, fmt.Errorf("failed to parse S3 credentials: %w", err)
	}

	region := uri.S3Region()
	if region == "" {
		region = ExtractRegionFromEndpoint(uri.S3Endpoint())
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: uri.S3UseSSL(),
		Region: region,
	}
	client, err := minio.New(uri.S3Endpoint(), opts)
	if err != nil {
		return nil, CategorizeS3Error(S3OpConnect, fmt.Errorf("failed to create S3 client: %w", err))
	}

	t := &S3Target{
		client: client,
		bucket: uri.S3Bucket(),
		key:    uri.S3Key(),
		raw:    uri.Raw,
		logger: logger,
	}
	if err := t.validateBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("S3 snapshot target ready",
		"endpoint", uri.S3Endpoint(),
		"bucket", t.bucket,
		"key", t.key,
		"ssl", opts.Secure,
		"region", region)
	return t, nil
}

func (t *S3Target) validateBucket(ctx context.Context) error {
	exists, err := t.client.BucketExists(ctx, t.bucket)
	if err != nil {
		return CategorizeS3Error(S3OpConnect, err)
	}
	if !exists {
		return CategorizeS3Error(S3OpConnect, fmt.Errorf("bucket %q does not exist", t.bucket))
	}
	return nil
}

// Push uploads the snapshot object.
func (t *S3Target) Push(ctx context.Context, data []byte) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, S3UploadTimeout)
	defer cancel()

	_, err := t.client.PutObject(ctx, t.bucket, t.key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		t.logger.Error("S3 upload failed",
			"bucket", t.bucket,
			"key", t.key,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return CategorizeS3Error(S3OpUpload, err)
	}
	t.logger.Info("S3 upload completed",
		"bucket", t.bucket,
		"key", t.key,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Pull downloads the snapshot object.
func (t *S3Target) Pull(ctx context.Context) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, S3DownloadTimeout)
	defer cancel()

	obj, err := t.client.GetObject(ctx, t.bucket, t.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, CategorizeS3Error(S3OpDownload, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, t.bucket, t.key)
		}
		t.logger.Error("S3 download failed",
			"bucket", t.bucket,
			"key", t.key,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return nil, CategorizeS3Error(S3OpDownload, err)
	}
	t.logger.Info("S3 download completed",
		"bucket", t.bucket,
		"key", t.key,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return data, nil
}

// Exists reports whether the snapshot object exists.
func (t *S3Target) Exists(ctx context.Context) (bool, error) {
	_, err := t.client.StatObject(ctx, t.bucket, t.key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, CategorizeS3Error(S3OpConnect, err)
	}
	return true, nil
}

func (t *S3Target) String() string { return t.raw }

// ParseS3Token splits ACCESS_KEY:SECRET_KEY on the first colon. An empty
// token falls back to AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.
func ParseS3Token(token string) (accessKey, secretKey string, err error) {
	if token == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		if (accessKey == "") != (secretKey == "") {
			return "", "", fmt.Errorf("S3 credentials incomplete: set both AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or use --token ACCESS_KEY:SECRET_KEY")
		}
		return accessKey, secretKey, nil
	}

	accessKey, secretKey, ok := strings.Cut(token, ":")
	if !ok {
		return "", "", fmt.Errorf("invalid token format: expected ACCESS_KEY:SECRET_KEY")
	}
	if accessKey == "" {
		return "", "", fmt.Errorf("invalid token format: access key cannot be empty")
	}
	if secretKey == "" {
		return "", "", fmt.Errorf("invalid token format: secret key cannot be empty")
	}
	return accessKey, secretKey, nil
}

// ExtractRegionFromEndpoint reads the AWS region out of s3.REGION.amazonaws.com
// and s3-REGION.amazonaws.com endpoints.
func ExtractRegionFromEndpoint(endpoint string) string {
	for _, re := range []*regexp.Regexp{regionDotPattern, regionHyphenPattern} {
		if m := re.FindStringSubmatch(endpoint); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
