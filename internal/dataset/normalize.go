package dataset

import (
	"fmt"
	"strings"

	"github.com/smahud/traffic-buster/pkg/models"
)

const (
	maxSetNameLen = 64
	maxIDLen      = 64
	maxCredLen    = 128
)

// SanitizeSetName lowercases the name and replaces anything outside
// [a-z0-9_] so set names are always safe path components.
func SanitizeSetName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > maxSetNameLen {
		out = out[:maxSetNameLen]
	}
	return out
}

func clamp(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// NormalizeTargets drops entries without a URL, dedupes by URL and assigns
// ids where missing. Negative quotas are zeroed.
func NormalizeTargets(in []models.Target) []models.Target {
	out := make([]models.Target, 0, len(in))
	seen := make(map[string]struct{})
	auto := 1
	for _, t := range in {
		url := strings.TrimSpace(t.URL)
		if url == "" {
			continue
		}
		key := strings.ToLower(url)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		id := clamp(strings.TrimSpace(t.ID), maxIDLen)
		if id == "" {
			id = fmt.Sprintf("t_%d", auto)
			auto++
		}
		if t.FlowTarget < 0 {
			t.FlowTarget = 0
		}
		if t.ClickTarget < 0 {
			t.ClickTarget = 0
		}
		out = append(out, models.Target{
			ID:          id,
			URL:         url,
			FlowTarget:  t.FlowTarget,
			ClickTarget: t.ClickTarget,
		})
	}
	return out
}

// NormalizeProxies drops entries without host/port, dedupes by host:port and
// assigns ids where missing. Enabled defaults to true.
func NormalizeProxies(in []models.Proxy) []models.Proxy {
	out := make([]models.Proxy, 0, len(in))
	seen := make(map[string]struct{})
	auto := 1
	for _, p := range in {
		host := strings.TrimSpace(p.Host)
		if host == "" || p.Port <= 0 || p.Port > 65535 {
			continue
		}
		key := fmt.Sprintf("%s:%d", host, p.Port)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		id := clamp(strings.TrimSpace(p.ID), maxIDLen)
		if id == "" {
			id = fmt.Sprintf("p_%d", auto)
			auto++
		}
		out = append(out, models.Proxy{
			ID:       id,
			Host:     host,
			Port:     p.Port,
			Username: clamp(p.Username, maxCredLen),
			Password: clamp(p.Password, maxCredLen),
			Enabled:  p.Enabled,
		})
	}
	return out
}

// NormalizePlatforms keeps entries with the identifying fields present and
// valid "WxH" resolutions only.
func NormalizePlatforms(in []models.Platform) []models.Platform {
	out := make([]models.Platform, 0, len(in))
	auto := 1
	for _, pf := range in {
		osDevice := strings.TrimSpace(pf.OSDevice)
		browser := strings.TrimSpace(pf.Browser)
		if osDevice == "" || browser == "" {
			continue
		}

		id := clamp(strings.TrimSpace(pf.ID), maxIDLen)
		if id == "" {
			id = fmt.Sprintf("pf_%d", auto)
			auto++
		}
		var resolutions []string
		for _, res := range pf.Resolutions {
			res = strings.TrimSpace(res)
			if _, _, ok := ParseResolution(res); ok {
				resolutions = append(resolutions, res)
			}
		}
		out = append(out, models.Platform{
			ID:          id,
			OSDevice:    osDevice,
			OSVersion:   strings.TrimSpace(pf.OSVersion),
			Browser:     browser,
			BaseVersion: strings.TrimSpace(pf.BaseVersion),
			Resolutions: resolutions,
		})
	}
	return out
}

// ParseResolution splits a "WxH" string into its dimensions.
func ParseResolution(res string) (w, h int, ok bool) {
	if n, err := fmt.Sscanf(res, "%dx%d", &w, &h); err != nil || n != 2 {
		return 0, 0, false
	}
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// NormalizeSettings fills unusable values with workable defaults.
func NormalizeSettings(s models.Settings) models.Settings {
	if s.InstanceCount <= 0 {
		s.InstanceCount = 1
	}
	if s.SessionDuration.Min <= 0 {
		s.SessionDuration.Min = 1000
	}
	if s.SessionDuration.Max < s.SessionDuration.Min {
		s.SessionDuration.Max = s.SessionDuration.Min
	}
	if s.DelayBetweenFlows.Min < 0 {
		s.DelayBetweenFlows.Min = 0
	}
	if s.DelayBetweenFlows.Max < s.DelayBetweenFlows.Min {
		s.DelayBetweenFlows.Max = s.DelayBetweenFlows.Min
	}
	return s
}
