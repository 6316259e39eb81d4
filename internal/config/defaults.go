package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Client: ClientConfig{
			BaseURL:               "http://127.0.0.1:8080",
			Language:              "en",
			HistoryWindow:         10,
			TitleLength:           40,
			RequestTimeoutSeconds: 60,
		},
		Gateway: GatewayConfig{
			Host:               "127.0.0.1",
			Port:               8080,
			DBPath:             "~/.recruitbot/recruitbot.db",
			AttachmentDir:      "~/.recruitbot/attachments",
			Responder:          "echo",
			RateLimitPerMinute: 30,
			RateLimitBurst:     5,
			MaxAttachmentBytes: 10 << 20,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
