// Package config handles configuration loading for dealdesk.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${DEALDESK_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	threads:
//	  expire_after: "168h"
//	  sweep_interval: "1h"
//	retry:
//	  interval: "5m"
//	  delays: ["5m", "1h", "4h"]
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/dealdesk/dealdesk.db"
//
// Summarization triggers:
//
//	summarizer:
//	  message_threshold: 20   # 0 disables summarization
//	  min_tokens: 300
//	  history_limit: 100
//
// Retry worker:
//
//	retry:
//	  interval: "5m"
//	  max_attempts: 3
//	  delays: ["5m", "1h", "4h"]
//	  batch_size: 10
//
// Keyed lock:
//
//	lock:
//	  ttl: "10m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/dealdesk/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Or start from defaults when no file exists:
//
//	cfg := config.Default()
package config
