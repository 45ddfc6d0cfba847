package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NormalizeURL converts a URL to canonical form so that equivalent spellings
// of the same page map to the same cache key: scheme defaults to https,
// scheme/host are lowercased, default ports are removed, the path is
// cleaned, query parameters are sorted and the fragment is dropped.
func NormalizeURL(rawURL string) (string, error) {
	// Handle URLs without scheme by prepending https://
	if !strings.Contains(rawURL, "://") && !strings.HasPrefix(rawURL, "//") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	if u.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}
	// Host should contain at least one dot (for domain.tld) OR be localhost.
	// Use Hostname() to strip port for validation.
	hostname := u.Hostname()
	if !strings.Contains(hostname, ".") && hostname != "localhost" {
		return "", fmt.Errorf("invalid URL: invalid host '%s'", u.Host)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ".")

	// Remove default ports
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	if u.Path == "" {
		u.Path = "/"
	}
	u.Path = normalizePath(u.Path)

	u.RawQuery = normalizeQuery(u.RawQuery)

	u.Fragment = ""

	return u.String(), nil
}

// Key generates the XXHash64 fingerprint of a normalized URL, formatted as
// 16 hex characters. All Redis and object-store keys derive from it.
func Key(normalizedURL string) string {
	h := xxhash.Sum64String(normalizedURL)
	return fmt.Sprintf("%016x", h)
}

// KeyForURL normalizes a raw URL and returns its cache key alongside the
// normalized form.
func KeyForURL(rawURL string) (key string, normalized string, err error) {
	normalized, err = NormalizeURL(rawURL)
	if err != nil {
		return "", "", err
	}
	return Key(normalized), normalized, nil
}

func normalizePath(path string) string {
	// Remove duplicate slashes
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	// Resolve relative paths
	parts := strings.Split(path, "/")
	var resolved []string

	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(resolved) > 0 && resolved[len(resolved)-1] != ".." {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, part)
		}
	}

	result := "/" + strings.Join(resolved, "/")
	if len(result) > 1 && strings.HasSuffix(path, "/") {
		result += "/"
	}

	return result
}

// normalizeQuery sorts query parameters so that URLs with the same
// parameters in different order are treated identically.
func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery // Return original if parsing fails
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		for _, value := range values[key] {
			if value == "" {
				parts = append(parts, url.QueryEscape(key))
			} else {
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
			}
		}
	}

	return strings.Join(parts, "&")
}
