package config

import (
	"os"
	"path/filepath"
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			GRPCPort:        50051,
			HTTPPort:        8080,
			Bind:            "127.0.0.1",
			BroadcastBuffer: 64,
			PushIntervalMS:  5000,
		},
		Client: ClientConfig{
			GRPCAddr:         "127.0.0.1:50051",
			HTTPURL:          "http://127.0.0.1:8080",
			TickMS:           100,
			RuntimePollMS:    2000,
			RefreshPollMS:    10000,
			StopWaitMS:       1500,
			RequestTimeoutMS: 5000,
			BeaconTimeoutMS:  3000,
			StatsDays:        1,
		},
		Stats: StatsConfig{
			PerAlertSeconds:     0.05,
			DisplayAlertSeconds: 1,
		},
		Storage: StorageConfig{
			DBPath:               defaultDBPath(),
			RetentionDays:        30,
			SummaryRetentionDays: 365,
		},
		Display: DisplayConfig{
			DetectionBufferSize: 200,
			RefreshRateMS:       100,
		},
		Alerts: AlertsConfig{
			SystemNotify:    true,
			CooldownSeconds: 30,
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "drowsewatch.db"
	}
	return filepath.Join(home, ".local", "share", "drowsewatch", "drowsewatch.db")
}
