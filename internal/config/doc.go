// ABOUTME: Package documentation for gateway configuration
// ABOUTME: Describes file locations, formats, env expansion and the main sections

// Package config handles configuration loading for wrap-gateway.
//
// # Configuration File
//
// Default location:
//
//  1. Path from WRAP_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/wrap/gateway.yaml (~/.config/wrap/gateway.yaml)
//
// Files ending in .toml are parsed as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// A .env file in the same directory is loaded first. Variables already set
// in the environment are not overridden. Values can then reference them:
//
//	auth:
//	  jwt_secret: "${WRAP_JWT_SECRET}"
//	channels:
//	  email:
//	    api_key: "${RESEND_API_KEY}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  dispatch_timeout: "30s"
//	  dedupe_ttl: "5m"
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"
//	database:
//	  driver: sqlite
//	  path: "~/.local/share/wrap/gateway.db"
//	gateway:
//	  default_mode: MANUAL
//	channels:
//	  social_dm:
//	    enabled: true
//	    provider: graph
//	  email:
//	    enabled: true
//	    sender: "Wrap Studio <hello@wrap.example>"
//	  website:
//	    enabled: true
//	render:
//	  pipeline:
//	    url: "http://render.internal/run"
//	events:
//	  amqp_url: "${WRAP_AMQP_URL}"
package config
