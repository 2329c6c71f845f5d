package server

import (
	"net/http"
	"strings"
)

const (
	defaultFrameAncestors     = "'none'"
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig controls the hardening headers on every response. Zero
// values fall back to safe defaults. MediaOrigin is the public object-storage
// origin the player streams segments from; it is allowed in connect-src,
// media-src and img-src so the embedded player can fetch playlists, segments
// and thumbnails cross-origin.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
	MediaOrigin           string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.FrameAncestors == "" {
		cfg.FrameAncestors = defaultFrameAncestors
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.PermissionsPolicy == "" {
		cfg.PermissionsPolicy = defaultPermissionsPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = buildContentSecurityPolicy(cfg.FrameAncestors, cfg.MediaOrigin)
	}
	return cfg
}

func buildContentSecurityPolicy(frameAncestors, mediaOrigin string) string {
	if frameAncestors == "" {
		frameAncestors = defaultFrameAncestors
	}
	connectSrc := "'self'"
	mediaSrc := "'self'"
	imgSrc := "'self' data:"
	if origin := strings.TrimSpace(mediaOrigin); origin != "" {
		connectSrc += " " + origin
		mediaSrc += " " + origin
		imgSrc += " " + origin
	}
	return "default-src 'self'; " +
		"connect-src " + connectSrc + "; " +
		"img-src " + imgSrc + "; " +
		"media-src " + mediaSrc + "; " +
		"script-src 'self'; " +
		"style-src 'self'; " +
		"font-src 'self'; " +
		"object-src 'none'; " +
		"base-uri 'self'; " +
		"frame-ancestors " + frameAncestors + "; " +
		"form-action 'self'"
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", effective.ContentSecurityPolicy)
		w.Header().Set("X-Frame-Options", effective.FrameOptions)
		w.Header().Set("X-Content-Type-Options", effective.ContentTypeOptions)
		w.Header().Set("Referrer-Policy", effective.ReferrerPolicy)
		w.Header().Set("Permissions-Policy", effective.PermissionsPolicy)
		next.ServeHTTP(w, r)
	})
}
