package config

import (
	"os"
	"strings"
)

// FromEnv overlays KAFKA_FLOW_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("KAFKA_FLOW_BROKERS"); v != "" {
		cfg.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_FLOW_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := os.Getenv("KAFKA_FLOW_APPLICATION_ID"); v != "" {
		cfg.ApplicationID = v
	}
	if v := os.Getenv("KAFKA_FLOW_TOPICS"); v != "" {
		cfg.Topics = splitList(v)
	}
	if v := os.Getenv("KAFKA_FLOW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KAFKA_FLOW_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("KAFKA_FLOW_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
	if v := os.Getenv("KAFKA_FLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KAFKA_FLOW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
