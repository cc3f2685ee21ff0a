// Package config handles configuration loading for assistant-gateway.
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
//	auth:
//	  jwt_secret: "${ASSISTANT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	assistant:
//	  request_timeout: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API consumed by the CRM frontend
//
// Database:
//
//	database:
//	  path: "/var/lib/assistant-gateway/assistant.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${ASSISTANT_JWT_SECRET}"   # Required
//
// Assistant endpoint:
//
//	assistant:
//	  endpoint: "https://reason.brokerdesk.example/turn"
//	  request_timeout: "60s"
//	  history_limit: 10
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
//	cfg, err := config.Load("/etc/assistant-gateway/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
