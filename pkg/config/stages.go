package config

// StagesConfig selects and orders the transform stages applied to every
// candidate message. Order is explicit; a stage absent from Order is
// never run even if its section is present.
type StagesConfig struct {
	Order   []string      `yaml:"order,omitempty"`
	Filter  FilterConfig  `yaml:"filter,omitempty"`
	Replace ReplaceConfig `yaml:"replace,omitempty"`
	Caption CaptionConfig `yaml:"caption,omitempty"`
	Sender  SenderConfig  `yaml:"sender,omitempty"`
}

// FilterConfig drops messages by text match. Blacklist wins over
// whitelist; an empty whitelist allows everything.
type FilterConfig struct {
	Blacklist []string `yaml:"blacklist,omitempty"`
	Whitelist []string `yaml:"whitelist,omitempty"`
	Regex     bool     `yaml:"regex"`
	// CaseSensitive applies to plain (non-regex) matching only.
	CaseSensitive bool `yaml:"case_sensitive"`
}

// ReplaceConfig rewrites message text, pattern by pattern, in map
// iteration-independent order (patterns applied sorted by key).
type ReplaceConfig struct {
	Text  map[string]string `yaml:"text,omitempty"`
	Regex bool              `yaml:"regex"`
}

// CaptionConfig prepends a header and appends a footer to the text.
type CaptionConfig struct {
	Header string `yaml:"header,omitempty"`
	Footer string `yaml:"footer,omitempty"`
}

// SenderConfig re-routes delivery through a second account. The stage
// opens its own connection during initialization, before any message is
// processed.
type SenderConfig struct {
	Login LoginConfig `yaml:"login"`
	// DownloadMedia stages media locally so the second account can
	// re-upload it instead of referencing the original file.
	DownloadMedia bool `yaml:"download_media"`
}
