package thumbnail

import (
	"errors"
	"net/url"
	"strings"
)

const opNormalize = "normalize url"

// NormalizeURL trims raw, prepends https:// when no http(s) scheme is present and checks the
// result parses as an absolute URL with a host. It never touches the network.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", NewError(CategoryInvalidURL, opNormalize, errors.New("url is required"))
	}

	candidate := trimmed
	if !hasHTTPScheme(trimmed) {
		candidate = "https://" + trimmed
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return "", NewError(CategoryInvalidURL, opNormalize, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", Errorf(CategoryInvalidURL, opNormalize, "%q has no host", trimmed)
	}
	if strings.ContainsAny(u.Host, " \t*") {
		return "", Errorf(CategoryInvalidURL, opNormalize, "%q has an invalid host", trimmed)
	}
	return candidate, nil
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
