package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultProvider: "anthropic",
			ProjectDir:      "~/.gohot-agent/project",
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Enabled:      true,
				APIBase:      "https://api.anthropic.com",
				APIKey:       "${ANTHROPIC_API_KEY}",
				DefaultModel: "claude-sonnet-4-5-20250514",
			},
		},
		Agent: AgentConfig{
			Mode:          "auto",
			AutoFallback:  true,
			MaxToolRounds: 5,
			HistoryLimit:  50,
			MaxTokens:     4096,
			Temperature:   0.7,
		},
		Permission: PermissionConfig{
			Level:                 "high",
			ConfirmHighRisk:       true,
			AllowDestructiveTools: true,
			AllowFileWriteTools:   true,
			AllowNetworkTools:     true,
			ConfirmTimeoutSeconds: 120,
			AuditLog:              true,
		},
		Memory: MemoryConfig{
			DBPath: "~/.gohot-agent/agent.db",
		},
		Meshy: MeshyConfig{
			Enabled:      false,
			APIBase:      "https://api.meshy.ai",
			APIKey:       "${MESHY_API_KEY}",
			PollSeconds:  5,
			DefaultModel: "meshy-6",
		},
		Panel: PanelConfig{
			Host: "127.0.0.1",
			Port: 8765,
			Path: "/panel",
		},
		Host: HostConfig{
			QueueSize:      32,
			TimeoutSeconds: 30,
		},
	}
}
