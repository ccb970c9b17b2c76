package host

import (
	"regexp"
	"strings"
)

var schemeRe = regexp.MustCompile(`^https?://`)

// Site exposes read-only path and URL accessors for the active site root.
type Site struct {
	themeDir string
	themeURI string
	secure   bool
	debug    bool
}

// NewSite creates site accessors. The URI scheme is aligned with secure.
func NewSite(themeDir, themeURI string, secure, debug bool) *Site {
	return &Site{
		themeDir: strings.TrimRight(themeDir, "/"),
		themeURI: strings.TrimRight(MaybeAdjustHTTPScheme(themeURI, secure), "/"),
		secure:   secure,
		debug:    debug,
	}
}

// ThemeDir returns the site directory, or path joined onto it. No trailing slash is
// added when path is empty.
func (s *Site) ThemeDir(path string) string {
	if path == "" {
		return s.themeDir
	}
	return s.themeDir + "/" + strings.TrimLeft(path, "/")
}

// ThemeURI returns the site URL, or path joined onto it.
func (s *Site) ThemeURI(path string) string {
	if path == "" {
		return s.themeURI
	}
	return s.themeURI + "/" + strings.TrimLeft(path, "/")
}

// Secure reports whether requests are served over TLS.
func (s *Site) Secure() bool { return s.secure }

// Debug reports whether the host runs in debug (strict) mode.
func (s *Site) Debug() bool { return s.debug }

// MaybeAdjustHTTPScheme rewrites an http or https scheme so it matches secure.
func MaybeAdjustHTTPScheme(url string, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return schemeRe.ReplaceAllString(url, scheme+"://")
}
