// Package config handles configuration loading for chatroom-server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATROOM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatroom/server.yaml
//  3. ~/.config/chatroom/server.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	storage:
//	  s3:
//	    secret_access_key: "${CHATROOM_S3_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	realtime:
//	  ping_interval: "30s"
//	  pong_timeout: "60s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"    # required
//	  base_url: "https://chat.example.com"
//	  allowed_origins: []          # CORS; empty allows all
//
//	database:
//	  driver: "sqlite"             # or "sqlite3" (cgo)
//	  path: "./chatroom.db"        # required
//
//	storage:
//	  backend: "disk"              # or "s3"
//	  path: "./blobs"
//	  s3:
//	    bucket: "chatroom"
//	    region: "us-east-1"
//	    endpoint: ""               # set for S3-compatible servers
//	    use_path_style: false
//
//	realtime:
//	  ping_interval: "30s"
//	  pong_timeout: "60s"
//	  write_timeout: "10s"
//
//	api:
//	  insert_rate: 5               # inserts/second per client address, 0 = unlimited
//	  insert_burst: 10
//	  dedupe_ttl: "5m"
//	  dedupe_size: 10000
//
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text or json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
