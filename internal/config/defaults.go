package config

// Defaults returns the built-in configuration. String values may contain
// ${VAR} placeholders; Load and FromEnv resolve them.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			RequestTimeoutSeconds: 300,
		},
		Models: ModelsConfig{
			Fast:      "gemini-2.5-flash",
			Reasoning: "gemini-2.5-pro",
		},
		LLM: LLMConfig{
			DefaultProvider: "litellm",
			MaxRetries:      5,
			BaseDelayMs:     1000,
			TimeoutSeconds:  120,
		},
		Providers: map[string]ProviderConfig{
			"litellm": {
				Enabled: true,
				Kind:    "openai",
				APIBase: "${LITELLM_BASE_URL:-http://3.110.18.218}",
				APIKey:  "${LITELLM_API_KEY}",
			},
			"gemini": {
				Enabled: false,
				Kind:    "gemini",
				APIKey:  "${GEMINI_API_KEY}",
			},
		},
		Analytics: AnalyticsConfig{
			CredentialsFile:   "${GOOGLE_APPLICATION_CREDENTIALS:-credentials.json}",
			DefaultPropertyID: "${GA4_PROPERTY_ID}",
			AllowedMetrics:    defaultMetrics(),
			AllowedDimensions: defaultDimensions(),
			MaxLimit:          1000,
		},
		SEO: SEOConfig{
			SheetID:             "1zzf4ax_H2WiTBVrJigGjF2Q3Yz-qy2qMCbAMKvl6VEE",
			GID:                 "1438203274",
			FetchTimeoutSeconds: 10,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "~/.insightbot/history.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Telegram: TelegramConfig{
			Enabled: false,
			Token:   "${TELEGRAM_BOT_TOKEN}",
		},
	}
}

func defaultMetrics() []string {
	return []string{
		"activeUsers",
		"sessions",
		"screenPageViews",
		"eventCount",
		"totalUsers",
		"newUsers",
	}
}

func defaultDimensions() []string {
	return []string{
		"date",
		"city",
		"country",
		"deviceCategory",
		"pagePath",
		"source",
		"medium",
	}
}
