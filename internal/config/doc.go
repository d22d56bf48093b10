// Package config handles configuration loading for nexus-server.
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
//	provider:
//	  api_key: "${NEXUS_PROVIDER_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	provider:
//	  timeout: "60s"
//	study:
//	  init_poll_interval: "1s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and websocket
//
// Database:
//
//	database:
//	  path: "/var/lib/nexus/nexus.db"
//
// Uploaded file storage:
//
//	blobs:
//	  dir: "/var/lib/nexus/uploads"
//
// Completion provider:
//
//	provider:
//	  base_url: "https://generativelanguage.googleapis.com"
//	  model: "gemini-1.5-flash"
//	  api_key: "${NEXUS_PROVIDER_KEY}"
//	  timeout: "60s"
//	  max_output_tokens: 2048
//
// Study session initialization:
//
//	study:
//	  init_poll_retries: 5
//	  init_poll_interval: "1s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/nexus/server.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
