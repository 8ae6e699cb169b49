package middleware

import (
	"fmt"
	"net/http"
	"strings"
)

// SecurityConfig selects the response headers added to every page.
type SecurityConfig struct {
	CSP               *CSPConfig
	HSTS              *HSTSConfig
	XFrameOptions     string
	ReferrerPolicy    string
	PermissionsPolicy map[string][]string
}

// CSPConfig holds Content-Security-Policy directives. Preview documents
// embedded through srcdoc inherit this policy, so it must admit the inline
// code they carry.
type CSPConfig struct {
	DefaultSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	ImgSrc         []string
	FontSrc        []string
	ConnectSrc     []string
	MediaSrc       []string
	FrameSrc       []string
	ObjectSrc      []string
	FrameAncestors []string
	BaseURI        []string
	FormAction     []string
}

type HSTSConfig struct {
	MaxAge            int
	IncludeSubDomains bool
}

// DefaultSecurityConfig is the development policy.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSP: &CSPConfig{
			DefaultSrc:     []string{"'self'"},
			ScriptSrc:      []string{"'self'", "'unsafe-inline'"},
			StyleSrc:       []string{"'self'", "'unsafe-inline'", "https:"},
			ImgSrc:         []string{"*", "data:", "blob:"},
			FontSrc:        []string{"*", "data:"},
			ConnectSrc:     []string{"'self'", "ws:", "wss:"},
			MediaSrc:       []string{"*", "data:", "blob:"},
			FrameSrc:       []string{"'self'", "about:"},
			ObjectSrc:      []string{"'none'"},
			FrameAncestors: []string{"'self'"},
			BaseURI:        []string{"'self'"},
			FormAction:     []string{"'self'"},
		},
		XFrameOptions:  "SAMEORIGIN",
		ReferrerPolicy: "strict-origin-when-cross-origin",
		PermissionsPolicy: map[string][]string{
			"camera":      nil,
			"geolocation": nil,
			"microphone":  nil,
			"payment":     nil,
			"usb":         nil,
			"fullscreen":  {"self"},
		},
	}
}

// ProductionSecurityConfig tightens the default policy for HTTPS
// deployments.
func ProductionSecurityConfig() *SecurityConfig {
	cfg := DefaultSecurityConfig()
	cfg.CSP.ConnectSrc = []string{"'self'", "wss:"}
	cfg.CSP.FrameAncestors = []string{"'none'"}
	cfg.XFrameOptions = "DENY"
	cfg.HSTS = &HSTSConfig{MaxAge: 31536000, IncludeSubDomains: true}
	return cfg
}

// SecurityConfigFor picks the policy for an environment name.
func SecurityConfigFor(environment string) *SecurityConfig {
	if environment == "production" {
		return ProductionSecurityConfig()
	}
	return DefaultSecurityConfig()
}

// SecurityHeaders sets the configured headers before the handler runs, so a
// handler may still override any of them.
func SecurityHeaders(cfg *SecurityConfig) Middleware {
	if cfg == nil {
		cfg = DefaultSecurityConfig()
	}
	csp := ""
	if cfg.CSP != nil {
		csp = cfg.CSP.String()
	}
	permissions := buildPermissionsPolicy(cfg.PermissionsPolicy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if csp != "" {
				h.Set("Content-Security-Policy", csp)
			}
			if cfg.HSTS != nil && r.TLS != nil {
				h.Set("Strict-Transport-Security", cfg.HSTS.String())
			}
			if cfg.XFrameOptions != "" {
				h.Set("X-Frame-Options", cfg.XFrameOptions)
			}
			h.Set("X-Content-Type-Options", "nosniff")
			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if permissions != "" {
				h.Set("Permissions-Policy", permissions)
			}
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// String renders the policy as a header value.
func (c *CSPConfig) String() string {
	var directives []string
	add := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, name+" "+strings.Join(values, " "))
		}
	}

	add("default-src", c.DefaultSrc)
	add("script-src", c.ScriptSrc)
	add("style-src", c.StyleSrc)
	add("img-src", c.ImgSrc)
	add("font-src", c.FontSrc)
	add("connect-src", c.ConnectSrc)
	add("media-src", c.MediaSrc)
	add("frame-src", c.FrameSrc)
	add("object-src", c.ObjectSrc)
	add("frame-ancestors", c.FrameAncestors)
	add("base-uri", c.BaseURI)
	add("form-action", c.FormAction)

	return strings.Join(directives, "; ")
}

func (h *HSTSConfig) String() string {
	header := fmt.Sprintf("max-age=%d", h.MaxAge)
	if h.IncludeSubDomains {
		header += "; includeSubDomains"
	}
	return header
}

// buildPermissionsPolicy renders features in a fixed order. An empty
// allowlist disables the feature.
func buildPermissionsPolicy(features map[string][]string) string {
	order := []string{"camera", "geolocation", "microphone", "payment", "usb", "fullscreen"}
	var policies []string
	for _, name := range order {
		allow, ok := features[name]
		if !ok {
			continue
		}
		policies = append(policies, fmt.Sprintf("%s=(%s)", name, strings.Join(allow, " ")))
	}
	return strings.Join(policies, ", ")
}
