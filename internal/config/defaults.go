package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.greencycle",
			LogLevel:  "info",
			LogFormat: "text",
			BaseURL:   "http://localhost:5173",
		},
		Chat: ChatConfig{
			ThinkDelayMinMs:    1000,
			ThinkDelayMaxMs:    2000,
			SingleFlight:       true,
			FAQThreshold:       0.35,
			SessionIdleMinutes: 30,
			MaxMessageLength:   2000,
			DateLayout:         "1/2/2006",
			RateLimitPerMinute: 30,
			RateLimitBurst:     10,
		},
		Store: StoreConfig{
			DBPath: "~/.greencycle/greencycle.db",
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
