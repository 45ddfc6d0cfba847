package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// blockedHostnames are names that always refer to the local machine and are
// rejected regardless of what they would resolve to.
var blockedHostnames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
}

// Validate checks whether a URL is safe to hand to the render fleet.
// Only http/https schemes are accepted; localhost aliases and private,
// loopback, link-local and reserved IP literals are rejected. Returns a
// descriptive error suitable for a 400 response body.
func Validate(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported scheme %q: only http and https are allowed", parsed.Scheme)
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return fmt.Errorf("url has no host")
	}

	if blockedHostnames[hostname] {
		return fmt.Errorf("host %q is not allowed", hostname)
	}

	if err := ValidateHostNotPrivateIP(hostname); err != nil {
		return err
	}

	return nil
}

// IsSafeURL is the boolean form of Validate.
func IsSafeURL(rawURL string) bool {
	return Validate(rawURL) == nil
}
