package webhook

import (
	"net/url"
	"strings"
)

// PlatformRegistry maps webhook URLs to platform formatters.
type PlatformRegistry struct {
	formatters map[Platform]PlatformFormatter
}

// NewPlatformRegistry creates a PlatformRegistry with the built-in formatters.
func NewPlatformRegistry() *PlatformRegistry {
	return &PlatformRegistry{
		formatters: map[Platform]PlatformFormatter{
			PlatformSlack:   &SlackFormatter{},
			PlatformGeneric: &GenericFormatter{},
		},
	}
}

// Detect picks the platform from the URL host. An explicit override wins
// when it names a registered platform.
//
//   - hooks.slack.com, hooks.slack-gov.com -> PlatformSlack
//   - anything else -> PlatformGeneric
func (r *PlatformRegistry) Detect(rawURL string, override Platform) Platform {
	if override != "" {
		if _, ok := r.formatters[override]; ok {
			return override
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return PlatformGeneric
	}
	switch strings.ToLower(u.Hostname()) {
	case "hooks.slack.com", "hooks.slack-gov.com":
		return PlatformSlack
	}
	return PlatformGeneric
}

// Get returns the formatter for p, falling back to the generic one.
func (r *PlatformRegistry) Get(p Platform) PlatformFormatter {
	if f, ok := r.formatters[p]; ok {
		return f
	}
	return r.formatters[PlatformGeneric]
}
