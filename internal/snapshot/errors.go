package snapshot

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
)

// Error categories.
const (
	CategoryAuth    = "authentication"
	CategoryNetwork = "network"
	CategoryStorage = "storage"
)

// Operations named in target errors.
const (
	S3OpUpload   = "upload"
	S3OpDownload = "download"
	S3OpConnect  = "connect"

	OCIOpPush    = "push"
	OCIOpPull    = "pull"
	OCIOpConnect = "connect"
)

// S3Error is a categorized S3 failure. It matches ErrStorageUnavailable.
type S3Error struct {
	Category string
	Op       string
	Err      error
}

func (e *S3Error) Error() string {
	return fmt.Sprintf("S3 %s error during %s: %v", e.Category, e.Op, e.Err)
}

func (e *S3Error) Unwrap() error { return e.Err }

func (e *S3Error) Is(target error) bool { return target == ErrStorageUnavailable }

// OCIError is a categorized OCI registry failure. It matches
// ErrStorageUnavailable.
type OCIError struct {
	Category string
	Op       string
	Err      error
}

func (e *OCIError) Error() string {
	return fmt.Sprintf("OCI %s error during %s: %v", e.Category, e.Op, e.Err)
}

func (e *OCIError) Unwrap() error { return e.Err }

func (e *OCIError) Is(target error) bool { return target == ErrStorageUnavailable }

// networkCategory reports network failures and a short description of them.
func networkCategory(err error, what string) (error, bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("network error: cannot resolve %s hostname", what), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return fmt.Errorf("network timeout: unable to reach %s", what), true
		}
		return fmt.Errorf("network error: unable to reach %s", what), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("network timeout: unable to reach %s", what), true
		}
		return fmt.Errorf("network error: unable to reach %s", what), true
	}
	return nil, false
}

// CategorizeS3Error classifies err as an authentication, network or storage
// failure.
func CategorizeS3Error(op string, err error) *S3Error {
	if err == nil {
		return nil
	}
	wrap := func(category string, e error) *S3Error { return &S3Error{Category: category, Op: op, Err: e} }

	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code != "" {
		switch resp.Code {
		case "AccessDenied":
			return wrap(CategoryAuth, fmt.Errorf("access denied: credentials lack s3:GetObject/s3:PutObject permissions"))
		case "InvalidAccessKeyId":
			return wrap(CategoryAuth, fmt.Errorf("invalid access key: verify credentials are correct"))
		case "SignatureDoesNotMatch":
			return wrap(CategoryAuth, fmt.Errorf("signature mismatch: verify secret key is correct"))
		case "ExpiredToken":
			return wrap(CategoryAuth, fmt.Errorf("token expired: refresh credentials"))
		case "NoSuchBucket":
			return wrap(CategoryStorage, fmt.Errorf("bucket not found: verify bucket exists and name is correct"))
		case "NoSuchKey":
			return wrap(CategoryStorage, fmt.Errorf("object not found"))
		case "InternalError", "ServiceUnavailable":
			return wrap(CategoryStorage, fmt.Errorf("S3 service unavailable: %s", resp.Message))
		default:
			return wrap(CategoryStorage, fmt.Errorf("%s: %s", resp.Code, resp.Message))
		}
	}

	msg := err.Error()
	for _, code := range []string{"AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken"} {
		if strings.Contains(msg, code) {
			return wrap(CategoryAuth, fmt.Errorf("authentication failed: %v", err))
		}
	}
	if netErr, ok := networkCategory(err, "S3 endpoint"); ok {
		return wrap(CategoryNetwork, netErr)
	}
	if strings.Contains(msg, "NoSuchBucket") {
		return wrap(CategoryStorage, fmt.Errorf("bucket not found: verify bucket exists and name is correct"))
	}
	return wrap(CategoryStorage, err)
}

// CategorizeOCIError classifies err as an authentication, network or storage
// failure, adding a registry specific hint to authentication failures.
func CategorizeOCIError(op string, err error) *OCIError {
	if err == nil {
		return nil
	}
	wrap := func(category string, e error) *OCIError { return &OCIError{Category: category, Op: op, Err: e} }
	msg := err.Error()

	if containsHTTPStatus(msg, 401) || strings.Contains(msg, "UNAUTHORIZED") {
		return wrap(CategoryAuth, fmt.Errorf("authentication failed: verify snapshot token is valid%s", registryAuthHint(msg)))
	}
	if containsHTTPStatus(msg, 403) || strings.Contains(msg, "DENIED") || strings.Contains(msg, "FORBIDDEN") {
		return wrap(CategoryAuth, fmt.Errorf("access denied: token lacks required permissions%s", registryAuthHint(msg)))
	}
	if netErr, ok := networkCategory(err, "OCI registry"); ok {
		return wrap(CategoryNetwork, netErr)
	}
	if isOCINotFound(msg) {
		return wrap(CategoryStorage, fmt.Errorf("repository not found or not initialized"))
	}
	if containsHTTPStatus(msg, 500) || containsHTTPStatus(msg, 503) {
		return wrap(CategoryStorage, fmt.Errorf("OCI registry unavailable: %v", err))
	}
	return wrap(CategoryStorage, err)
}

func isOCINotFound(msg string) bool {
	return containsHTTPStatus(msg, 404) ||
		strings.HasSuffix(msg, ": not found") ||
		strings.Contains(msg, "NOT_FOUND") ||
		strings.Contains(msg, "NAME_UNKNOWN") ||
		strings.Contains(msg, "MANIFEST_UNKNOWN")
}

func containsHTTPStatus(msg string, status int) bool {
	for _, pattern := range []string{"status %d", "status: %d", "HTTP %d", "response status code %d"} {
		if strings.Contains(msg, fmt.Sprintf(pattern, status)) {
			return true
		}
	}
	return false
}

func registryAuthHint(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "ghcr.io"):
		return " (ghcr.io: use a GitHub PAT with 'write:packages' scope)"
	case strings.Contains(m, "docker.io"):
		return " (docker.io: use a Docker Hub access token)"
	case strings.Contains(m, "azurecr.io"):
		return " (Azure ACR: use 'az acr login --expose-token' to get a token)"
	case strings.Contains(m, "amazonaws.com"):
		return " (AWS ECR: use 'aws ecr get-login-password' to get a token)"
	case strings.Contains(m, "gcr.io"), strings.Contains(m, "pkg.dev"):
		return " (GCP: use 'gcloud auth print-access-token' to get a token)"
	}
	return ""
}
