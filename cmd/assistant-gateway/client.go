// ABOUTME: health and conversations commands talking to a running gateway over HTTP
// ABOUTME: The gateway address is derived from the loaded config

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/2389/assistant-gateway/internal/config"
	"github.com/2389/assistant-gateway/internal/store"
)

// baseURL returns where the gateway described by cfg can be reached.
func baseURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname
		}
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

func get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return checkHealth(ctx, baseURL(cfg), os.Stdout)
}

func checkHealth(ctx context.Context, base string, out io.Writer) error {
	resp, err := get(ctx, base+"/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(out, "healthy:", string(body))
	return nil
}

func runConversations(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return listConversations(ctx, baseURL(cfg), out)
}

func listConversations(ctx context.Context, base string, out io.Writer) error {
	resp, err := get(ctx, base+"/api/conversations")
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("listing conversations: status %d: %s", resp.StatusCode, e.Error)
	}

	var convs []store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&convs); err != nil {
		return fmt.Errorf("decoding conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTITLE")
	for _, c := range convs {
		title := "(untitled)"
		if c.HasTitle() {
			title = *c.Title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.CreatedOn.Local().Format(time.DateTime), title)
	}
	return tw.Flush()
}
