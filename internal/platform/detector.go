// Package platform classifies video URLs by source site.
package platform

import (
	"net/url"
	"strings"

	apperrors "github.com/lk2023060901/vidgrab-bot/internal/pkg/errors"
)

// DefaultDomains is the allow-list used when none is configured.
var DefaultDomains = []string{"youtube", "youtu", "tiktok", "instagram"}

// aliases maps allow-list entries to the platform tag shown to users and
// used for credential lookup.
var aliases = map[string]string{
	"youtu": "youtube",
}

// Detector matches a URL host against an ordered allow-list.
type Detector struct {
	domains []string
}

func NewDetector(domains []string) *Detector {
	if len(domains) == 0 {
		domains = DefaultDomains
	}
	ds := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			ds = append(ds, d)
		}
	}
	return &Detector{domains: ds}
}

// Detect returns the platform tag for rawURL. The first allow-list entry
// contained in the host wins.
func (d *Detector) Detect(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", apperrors.New(apperrors.ErrInvalidURL, rawURL)
	}

	host := strings.ToLower(u.Host)
	for _, domain := range d.domains {
		if strings.Contains(host, domain) {
			return Normalize(domain), nil
		}
	}
	return "", apperrors.New(apperrors.ErrUnsupportedPlatform, host)
}

// Domains returns a copy of the allow-list.
func (d *Detector) Domains() []string {
	return append([]string(nil), d.domains...)
}

// Normalize folds allow-list aliases into their canonical platform tag.
func Normalize(platform string) string {
	if canonical, ok := aliases[platform]; ok {
		return canonical
	}
	return platform
}
