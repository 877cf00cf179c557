package models

// DatasetKind identifies one of the four per-user dataset collections.
type DatasetKind string

const (
	KindTargets   DatasetKind = "targets"
	KindProxies   DatasetKind = "proxies"
	KindPlatforms DatasetKind = "platforms"
	KindSettings  DatasetKind = "settings"
)

// ValidKind reports whether k names a known dataset kind.
func ValidKind(k DatasetKind) bool {
	switch k {
	case KindTargets, KindProxies, KindPlatforms, KindSettings:
		return true
	}
	return false
}

// Target is one URL a job drives traffic against.
type Target struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	FlowTarget  int    `json:"flowTarget"`
	ClickTarget int    `json:"clickTarget"`
}

// Proxy is an upstream proxy endpoint. Enabled flips to false permanently
// when the proxy fails during a run.
type Proxy struct {
	ID       string `json:"id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// Platform describes a synthetic device/browser profile used to parameterize
// a browsing session.
type Platform struct {
	ID          string   `json:"id"`
	OSDevice    string   `json:"osDevice"`
	OSVersion   string   `json:"osVersion,omitempty"`
	Browser     string   `json:"browser"`
	BaseVersion string   `json:"baseVersion,omitempty"`
	Resolutions []string `json:"resolutions,omitempty"` // "WxH" strings
}

// MinMax is an inclusive millisecond range to sample from.
type MinMax struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// HumanSurfing toggles the in-session behaviors that imitate a real visitor.
type HumanSurfing struct {
	AutoPageScrolling bool `json:"autoPageScrolling"`
	ExternalClicks    bool `json:"externalClicks"`
}

// Settings is a named settings profile merged into a job's config at load time.
type Settings struct {
	InstanceCount     int          `json:"instanceCount"`
	SessionDuration   MinMax       `json:"sessionDuration"`
	DelayBetweenFlows MinMax       `json:"delayBetweenFlows"`
	HumanSurfing      HumanSurfing `json:"humanSurfing"`
	Geolocation       string       `json:"geolocation,omitempty"`
}

// SettingsPatch holds per-run overrides applied on top of a settings profile.
// Nil fields leave the profile value untouched.
type SettingsPatch struct {
	InstanceCount     *int          `json:"instanceCount,omitempty"`
	SessionDuration   *MinMax       `json:"sessionDuration,omitempty"`
	DelayBetweenFlows *MinMax       `json:"delayBetweenFlows,omitempty"`
	HumanSurfing      *HumanSurfing `json:"humanSurfing,omitempty"`
	Geolocation       *string       `json:"geolocation,omitempty"`
}

// Apply merges the patch into s.
func (p *SettingsPatch) Apply(s *Settings) {
	if p == nil {
		return
	}
	if p.InstanceCount != nil {
		s.InstanceCount = *p.InstanceCount
	}
	if p.SessionDuration != nil {
		s.SessionDuration = *p.SessionDuration
	}
	if p.DelayBetweenFlows != nil {
		s.DelayBetweenFlows = *p.DelayBetweenFlows
	}
	if p.HumanSurfing != nil {
		s.HumanSurfing = *p.HumanSurfing
	}
	if p.Geolocation != nil {
		s.Geolocation = *p.Geolocation
	}
}
