// Package config handles configuration loading for assistant-gateway.
//
// # Configuration File
//
// YAML (.yaml, .yml) or TOML (.toml), chosen by file extension.
// Default locations (in order):
//
//  1. Path from ASSISTANT_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/assistant-gateway/gateway.yaml
//  3. ~/.config/assistant-gateway/gateway.yaml
//
// # Environment Variable Expansion
//
// ${VAR_NAME} is replaced before decoding; unset variables become empty.
//
//	assistant:
//	  api_key: "${OPENAI_API_KEY}"
//
// ASSISTANT_GATEWAY_DB_PATH replaces store.endpoint for the sqlite and bolt drivers.
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"      # required unless tailscale.enabled
//
//	assistant:
//	  endpoint: "https://my.openai.azure.com"   # required
//	  api_key: "${AZURE_OPENAI_KEY}"            # required
//	  azure: true
//	  api_version: "2024-05-01-preview"
//	  assistant_id: "asst_..."                  # required
//	  summarization_model: "gpt-4o-mini"        # required
//	  run_timeout: "5m"
//	  max_tool_rounds: 8
//	  attachment_tools: ["file_search"]
//
//	titles:
//	  provider: "assistant"          # assistant, ollama
//	  ollama_host: "http://localhost:11434"
//	  ollama_model: "llama3.2"
//	  timeout: "30s"
//
//	store:
//	  driver: "sqlite"               # sqlite, bolt, mongo
//	  endpoint: "~/.local/share/assistant-gateway/gateway.db"   # required
//	  username: ""                   # mongo only
//	  key: ""                        # required for mongo
//	  database: "openai-chatbot"
//	  collection: "conversations"
//
//	realtime:
//	  max_message_size: 1048576
//	  read_timeout: "60s"
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//	  send_buffer: 256
//
//	uploads:
//	  max_bytes: 33554432
//
//	tailscale:
//	  enabled: false
//	  hostname: "assistant-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Every failure wraps ErrInvalid and names the offending key. Defaults are
// applied only after validation succeeds.
package config
