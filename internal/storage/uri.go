package storage

import (
	"fmt"
	"strings"
)

// Location is a canonical (bucket, key) reference.
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URI    string `json:"uri"`
}

// NewLocation builds a Location with its s3:// URI filled in.
func NewLocation(bucket, key string) Location {
	return Location{Bucket: bucket, Key: key, URI: FormatURI(bucket, key)}
}

// FormatURI renders s3://bucket/key.
func FormatURI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ParseURI splits "<scheme>://bucket/key" into bucket and key. The scheme is
// not interpreted; a bare "bucket/key" is accepted as well.
func ParseURI(uri string) (string, string, error) {
	rest := strings.TrimSpace(uri)
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid object uri %q: missing bucket", uri)
	}
	return bucket, key, nil
}

// NormalizePrefix strips leading slashes and guarantees exactly one trailing
// slash for non-empty input. Empty input (or input of only slashes) maps to "".
func NormalizePrefix(prefix string) string {
	p := strings.TrimLeft(prefix, "/")
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Join concatenates a prefix and a name, normalizing the prefix first.
func Join(prefix, name string) string {
	return NormalizePrefix(prefix) + strings.TrimLeft(name, "/")
}
