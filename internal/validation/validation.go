// Package validation checks operator-supplied values (listen hosts, file
// paths, allowed origins) before they reach the server or the filesystem.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// shellChars are rejected in anything that may end up in a command line or
// a log viewer.
var shellChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}

func firstShellChar(s string) (string, bool) {
	for _, c := range shellChars {
		if strings.Contains(s, c) {
			return c, true
		}
	}
	return "", false
}

// Host validates a listen host. Empty is allowed and means the default.
func Host(host string) error {
	if c, bad := firstShellChar(host); bad {
		return fmt.Errorf("host contains dangerous character: %s", c)
	}
	if strings.ContainsAny(host, "\\ \t\r\n/") {
		return fmt.Errorf("host %q is not a hostname or address", host)
	}
	return nil
}

// Path validates a file path to prevent path traversal.
func Path(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}
	if c, bad := firstShellChar(cleanPath); bad {
		return fmt.Errorf("path contains dangerous character: %s", c)
	}
	return nil
}

// Origin validates an allowed origin: an http or https scheme and a host,
// with nothing after it.
func Origin(origin string) error {
	if origin == "" {
		return fmt.Errorf("empty origin")
	}
	if c, bad := firstShellChar(origin); bad {
		return fmt.Errorf("origin contains dangerous character: %s", c)
	}
	if strings.ContainsAny(origin, " \\\r\n") {
		return fmt.Errorf("origin %q contains whitespace or backslashes", origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme %q: only http and https are allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("origin %q has no host", origin)
	}
	if u.User != nil {
		return fmt.Errorf("origin %q must not carry credentials", origin)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("origin %q must not have a path, query or fragment", origin)
	}
	return nil
}

// OriginHost returns the host[:port] of a valid origin, as websocket origin
// patterns expect it.
func OriginHost(origin string) (string, error) {
	if err := Origin(origin); err != nil {
		return "", err
	}
	u, _ := url.Parse(origin)
	return u.Host, nil
}
