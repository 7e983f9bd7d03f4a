package snapshot

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultObjectName is the object key used when an s3:// URI names only a
// bucket.
const DefaultObjectName = "horde-model-reference.json"

// SupportedSchemes lists the snapshot target URI schemes.
var SupportedSchemes = []string{"file", "s3", "s3+http", "oci"}

// URI is a parsed snapshot target location.
type URI struct {
	Scheme string // file, s3, s3+http or oci
	Host   string // endpoint or registry host; empty for file://
	Path   string // file path, bucket/key, or repository
	Query  url.Values
	Raw    string
}

// NormalizeURI prepends "file://" to a URI without a scheme.
func NormalizeURI(uri string) string {
	if uri == "" || strings.Contains(uri, "://") {
		return uri
	}
	return "file://" + uri
}

// ParseURI parses a snapshot target URI.
func ParseURI(uri string) (*URI, error) {
	if uri == "" {
		return nil, fmt.Errorf("snapshot URI cannot be empty")
	}
	parsed, err := url.Parse(NormalizeURI(uri))
	if err != nil {
		return nil, fmt.Errorf("invalid URI format: %w", err)
	}
	if !supported(parsed.Scheme) {
		return nil, fmt.Errorf("unsupported snapshot scheme %q; supported schemes: %s",
			parsed.Scheme, strings.Join(SupportedSchemes, ", "))
	}

	switch parsed.Scheme {
	case "oci":
		return parseOCI(parsed, uri)
	case "s3", "s3+http":
		return parseS3(parsed, uri)
	}

	path := parsed.Path
	if path == "" && parsed.Opaque != "" {
		path = parsed.Opaque
	}
	if parsed.Host == "." && strings.HasPrefix(path, "/") {
		path = "./" + strings.TrimPrefix(path, "/")
	} else if len(parsed.Host) == 1 && path != "" {
		// file://C:/path
		path = parsed.Host + ":" + path
	}
	if path == "" {
		return nil, fmt.Errorf("snapshot URI must have a path")
	}
	return &URI{Scheme: "file", Path: path, Raw: uri}, nil
}

func supported(scheme string) bool {
	for _, s := range SupportedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func parseOCI(parsed *url.URL, raw string) (*URI, error) {
	if parsed.RawQuery != "" {
		return nil, fmt.Errorf("OCI URI does not support query parameters")
	}
	if parsed.Fragment != "" {
		return nil, fmt.Errorf("OCI URI does not support fragments")
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("OCI URI must include registry host: oci://<registry>/<repository>")
	}
	repo := strings.TrimPrefix(parsed.Path, "/")
	if repo == "" {
		return nil, fmt.Errorf("OCI URI must include repository path: oci://<registry>/<repository>")
	}
	// The tag is always "latest".
	if idx := strings.LastIndex(repo, ":"); idx > 0 {
		repo = repo[:idx]
	}
	return &URI{Scheme: "oci", Host: parsed.Host, Path: repo, Raw: raw}, nil
}

func parseS3(parsed *url.URL, raw string) (*URI, error) {
	if parsed.Host == "" {
		return nil, fmt.Errorf("S3 URI must include an endpoint: s3://<endpoint>/<bucket>[/<key>]")
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return nil, fmt.Errorf("S3 URI must include a bucket: s3://<endpoint>/<bucket>[/<key>]")
	}
	return &URI{Scheme: parsed.Scheme, Host: parsed.Host, Path: path, Query: parsed.Query(), Raw: raw}, nil
}

// IsFile reports whether the URI is a file:// target.
func (u *URI) IsFile() bool { return u.Scheme == "file" }

// IsS3 reports whether the URI is an s3:// or s3+http:// target.
func (u *URI) IsS3() bool { return u.Scheme == "s3" || u.Scheme == "s3+http" }

// IsOCI reports whether the URI is an oci:// target.
func (u *URI) IsOCI() bool { return u.Scheme == "oci" }

// S3Endpoint is the host[:port] of the S3 service.
func (u *URI) S3Endpoint() string { return u.Host }

// S3Bucket is the first path segment.
func (u *URI) S3Bucket() string {
	bucket, _, _ := strings.Cut(u.Path, "/")
	return bucket
}

// S3Key is the object key, DefaultObjectName when only a bucket is given.
func (u *URI) S3Key() string {
	_, key, ok := strings.Cut(u.Path, "/")
	if !ok || key == "" {
		return DefaultObjectName
	}
	return key
}

// S3UseSSL is false only for s3+http://.
func (u *URI) S3UseSSL() bool { return u.Scheme != "s3+http" }

// S3Region is the "region" query parameter.
func (u *URI) S3Region() string {
	if u.Query == nil {
		return ""
	}
	return u.Query.Get("region")
}

// OCIReference is "registry/repository:latest".
func (u *URI) OCIReference() string {
	return fmt.Sprintf("%s/%s:latest", u.Host, u.Path)
}

func (u *URI) String() string { return u.Raw }
