// Package config handles configuration loading for zova-store.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Missing fields fall back to defaults, then the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ZOVA_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/zova/store.yaml
//  3. ~/.config/zova/store.yaml
//
// A file ending in .toml is decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${ZOVA_DATA}/store.db"
//
// Syntax: ${VAR_NAME}
//
// # Example
//
//	database:
//	  path: ~/.local/share/zova/store.db
//	  workers: 2
//	  queue_size: 64
//	  call_timeout: "30s"
//
//	legacy:
//	  path: .zova/conversations.tsv
//	  auto_import: true
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: text     # text or json
package config
