// Package validation registers the custom validator tags used by request
// DTOs: safe_url for download sources and safe_path for destinations.
package validation

import (
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("safe_url", validateSafeURL)
	_ = validate.RegisterValidation("safe_path", validateSafePath)
}

// Struct validates s against its validate tags.
func Struct(s interface{}) error {
	return validate.Struct(s)
}

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

// validateSafeURL accepts http(s) URLs whose host is not a loopback, private,
// link-local or unspecified address. Names are not resolved.
func validateSafeURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return false
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return false
	}
	if _, blocked := blockedHostnames[host]; blocked || strings.HasSuffix(host, ".localhost") {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified())
}

// validateSafePath accepts relative slash-separated folders that stay
// inside their parent.
func validateSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return true
	}

	if strings.HasPrefix(p, "/") || strings.ContainsAny(p, `\:*?"<>|`) {
		return false
	}
	for _, r := range p {
		if r < 0x20 {
			return false
		}
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return path.Clean(p) != "."
}
