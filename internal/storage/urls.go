package storage

import (
	"net/url"
	"strings"
)

// URLMapper converts between object keys and the public URLs stored in the
// portfolio image arrays.
type URLMapper struct {
	prefix string
}

func NewURLMapper(publicBaseURL, bucket string) URLMapper {
	return URLMapper{prefix: strings.TrimRight(publicBaseURL, "/") + "/" + strings.Trim(bucket, "/") + "/"}
}

func (m URLMapper) PublicURL(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return m.prefix + strings.Join(segments, "/")
}

// ObjectKey reverses PublicURL. URLs that point elsewhere report false.
func (m URLMapper) ObjectKey(publicURL string) (string, bool) {
	if !strings.HasPrefix(publicURL, m.prefix) {
		return "", false
	}
	escaped := strings.TrimPrefix(publicURL, m.prefix)
	if escaped == "" {
		return "", false
	}
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return key, true
}
