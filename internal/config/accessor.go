package config

// Sanitize returns a copy of the config with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg

	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, prov := range cfg.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
		}
		out.Providers[name] = prov
	}
	if out.Telegram.Token != "" {
		out.Telegram.Token = maskString(out.Telegram.Token)
	}
	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
