package schemas

// -- Browser Persona Schemas --

// Persona describes the fingerprint a browser session presents to sites.
type Persona struct {
	UserAgent string   `json:"userAgent" mapstructure:"user_agent" yaml:"user_agent"`
	Platform  string   `json:"platform" mapstructure:"platform" yaml:"platform"`
	Languages []string `json:"languages" mapstructure:"languages" yaml:"languages"`
	Width     int64    `json:"width" mapstructure:"width" yaml:"width"`
	Height    int64    `json:"height" mapstructure:"height" yaml:"height"`
	Timezone  string   `json:"timezoneId" mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `json:"locale" mapstructure:"locale" yaml:"locale"`
}

// DefaultPersona is used when the configuration leaves fields empty. The
// viewport matches the tall layout that keeps most listing pages on one screen.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Width:     1440,
	Height:    1700,
	Timezone:  "America/New_York",
	Locale:    "en-US",
}
