// ABOUTME: init command: prompts for the essentials and writes a commented starter config
// ABOUTME: Refuses to overwrite an existing config file

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers are the values collected by the init prompts.
type initAnswers struct {
	HTTPAddr           string
	Endpoint           string
	Azure              bool
	APIKey             string
	AssistantID        string
	SummarizationModel string
	StoreDriver        string
	StoreEndpoint      string
	TitlesProvider     string
	Tailscale          bool
	TailscaleHostname  string
	LogLevel           string
	LogFormat          string
}

func runInit(in io.Reader, configPath, dataPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s (remove it first or set %s)", configPath, configEnv)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config path: %w", err)
	}

	reader := bufio.NewReader(in)

	fmt.Println("assistant-gateway configuration setup")
	fmt.Println("=====================================")
	fmt.Println()

	a := initAnswers{}

	fmt.Println("--- Assistant ---")
	a.Endpoint = prompt(reader, "Endpoint", "https://api.openai.com/v1")
	a.Azure = yes(prompt(reader, "Azure OpenAI?", "no"))
	a.APIKey = prompt(reader, "API key (or ${ENV_VAR})", "${OPENAI_API_KEY}")
	a.AssistantID = prompt(reader, "Assistant ID", "")
	a.SummarizationModel = prompt(reader, "Model for conversation titles", "gpt-4o-mini")
	a.TitlesProvider = prompt(reader, "Title provider (assistant/ollama)", "assistant")

	fmt.Println("\n--- Storage ---")
	a.StoreDriver = prompt(reader, "Store driver (sqlite/bolt/mongo)", "sqlite")
	defaultEndpoint := filepath.Join(dataPath, "gateway.db")
	if a.StoreDriver == "mongo" {
		defaultEndpoint = "mongodb://localhost:27017"
	}
	a.StoreEndpoint = prompt(reader, "Store endpoint", defaultEndpoint)

	fmt.Println("\n--- Server ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	a.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TailscaleHostname = prompt(reader, "Tailscale hostname", "assistant-gateway")
	}

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// O_EXCL keeps the no-overwrite promise even if the file appeared meanwhile.
	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := f.WriteString(renderConfig(a)); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.StoreDriver != "mongo" {
		if err := os.MkdirAll(filepath.Dir(a.StoreEndpoint), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", configPath)
	if a.AssistantID == "" {
		fmt.Println("Set assistant.assistant_id before starting the server.")
	}
	fmt.Println("\nTo start the server:")
	fmt.Println("  assistant-gateway serve")
	return nil
}

func renderConfig(a initAnswers) string {
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format, args...) }

	w("# assistant-gateway configuration\n")
	w("# Generated by assistant-gateway init\n\n")

	w("server:\n")
	w("  http_addr: %q\n\n", a.HTTPAddr)

	w("assistant:\n")
	w("  endpoint: %q\n", a.Endpoint)
	w("  api_key: %q\n", a.APIKey)
	w("  azure: %t\n", a.Azure)
	if a.Azure {
		w("  api_version: \"2024-05-01-preview\"\n")
	}
	w("  assistant_id: %q\n", a.AssistantID)
	w("  summarization_model: %q\n", a.SummarizationModel)
	w("  run_timeout: \"5m\"        # upper bound for one turn, tool calls included\n")
	w("  max_tool_rounds: 8         # tool output submissions per turn\n")
	w("  attachment_tools: [\"file_search\"]\n\n")

	w("titles:\n")
	w("  provider: %q             # assistant, ollama\n", a.TitlesProvider)
	w("  # ollama_host: \"http://localhost:11434\"\n")
	w("  # ollama_model: \"llama3.2\"\n")
	w("  timeout: \"30s\"\n\n")

	w("store:\n")
	w("  driver: %q               # sqlite, bolt, mongo\n", a.StoreDriver)
	w("  endpoint: %q\n", a.StoreEndpoint)
	if a.StoreDriver == "mongo" {
		w("  username: \"\"\n")
		w("  key: \"${MONGO_PASSWORD}\"\n")
		w("  database: \"openai-chatbot\"\n")
		w("  collection: \"conversations\"\n")
	}
	w("\n")

	w("realtime:\n")
	w("  max_message_size: 1048576\n")
	w("  read_timeout: \"60s\"\n")
	w("  write_timeout: \"10s\"\n")
	w("  ping_interval: \"30s\"\n")
	w("  send_buffer: 256\n\n")

	w("uploads:\n")
	w("  max_bytes: 33554432\n\n")

	w("tailscale:\n")
	w("  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		w("  hostname: %q\n", a.TailscaleHostname)
		w("  auth_key: \"${TS_AUTHKEY}\"\n")
		w("  https: true\n")
		w("  funnel: false\n")
	}
	w("\n")

	w("logging:\n")
	w("  level: %q\n", a.LogLevel)
	w("  format: %q\n", a.LogFormat)

	return b.String()
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}

	if input == "" {
		return defaultVal
	}
	return input
}
