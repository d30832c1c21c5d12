package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/deskbridge/internal/config"
	"github.com/h1v3-io/deskbridge/internal/connector/webhook"
	"github.com/h1v3-io/deskbridge/internal/journal"
	"github.com/h1v3-io/deskbridge/internal/scheduler"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "deskbridgectl",
		Short:         "deskbridge management CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("url", envOr("DESKBRIDGE_URL", "http://localhost:5000"), "Daemon URL.")
	cmd.PersistentFlags().String("api-key", os.Getenv("DESKBRIDGE_API_KEY"), "API key for /api routes.")

	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newActivityCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Post a health probe to the active channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(cmd).do(http.MethodGet, "/health", nil, nil)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show active channel and known bot ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(cmd).do(http.MethodGet, "/api/status", nil, nil)
			if err != nil {
				return err
			}
			var st struct {
				ActiveChannel string   `json:"active_channel"`
				BotIDs        []string `json:"bot_ids"`
				HistoryLimit  int      `json:"history_limit"`
			}
			if err := json.Unmarshal(body, &st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			fmt.Printf("active channel: %s\n", st.ActiveChannel)
			fmt.Printf("history limit:  %d\n", st.HistoryLimit)
			fmt.Printf("bot ids:        %v\n", st.BotIDs)
			return nil
		},
	}
}

func newActivityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List recent tickets, cleanups and health probes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if kind != "" {
				q.Set("kind", kind)
			}
			body, err := newClient(cmd).do(http.MethodGet, "/api/activity?"+q.Encode(), nil, nil)
			if err != nil {
				return err
			}
			var entries []journal.Entry
			if err := json.Unmarshal(body, &entries); err != nil {
				return fmt.Errorf("decode activity: %w", err)
			}
			for _, e := range entries {
				fmt.Printf("%s  %-8s %-10s %-12s %-8s %s\n",
					e.Time.Format(time.RFC3339), e.Kind, e.Outcome, e.Channel, e.Ticket, e.Detail)
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "", "Filter by kind: ticket|cleanup|health.")
	cmd.Flags().Int("limit", 50, "Maximum entries.")
	return cmd
}

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete the bridge's recent messages from a channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch, _ := cmd.Flags().GetString("channel")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if ch != "" {
				q.Set("channel", ch)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			body, err := newClient(cmd).do(http.MethodPost, "/api/cleanup?"+q.Encode(), nil, nil)
			if err != nil {
				return err
			}
			var rep struct {
				Channel string `json:"channel"`
				Scanned int    `json:"scanned"`
				Matched int    `json:"matched"`
				Deleted int    `json:"deleted"`
				Failed  int    `json:"failed"`
			}
			if err := json.Unmarshal(body, &rep); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}
			fmt.Printf("Deleted %d messages from channel %s (scanned %d, matched %d, failed %d).\n",
				rep.Deleted, rep.Channel, rep.Scanned, rep.Matched, rep.Failed)
			return nil
		},
	}
	cmd.Flags().String("channel", "", "Channel id (defaults to the daemon's active channel).")
	cmd.Flags().Int("limit", 0, "History window (defaults to cleanup.history_limit).")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled cleanups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled cleanups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(cmd).do(http.MethodGet, "/api/schedules", nil, nil)
			if err != nil {
				return err
			}
			var jobs []scheduler.Job
			if err := json.Unmarshal(body, &jobs); err != nil {
				return fmt.Errorf("decode schedules: %w", err)
			}
			for _, j := range jobs {
				next := "-"
				if !j.Next.IsZero() {
					next = j.Next.Format(time.RFC3339)
				}
				fmt.Printf("%-12s %-20s next %s\n", j.Channel, j.Schedule, next)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <channel> <schedule>",
		Short: "Schedule a cleanup, e.g. add C0123 \"0 3 * * *\"",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{"channel": args[0], "schedule": args[1]})
			if _, err := newClient(cmd).do(http.MethodPost, "/api/schedules", payload,
				map[string]string{"Content-Type": "application/json"}); err != nil {
				return err
			}
			fmt.Printf("Scheduled cleanup of %s at %q.\n", args[0], args[1])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <channel>",
		Short: "Remove every scheduled cleanup of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(cmd).do(http.MethodDelete, "/api/schedules/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	})
	return cmd
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <payload.json>",
		Short: "Replay a webhook payload against the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			headers := map[string]string{"Content-Type": "application/json"}
			if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
				headers["X-Desk-Signature"] = webhook.ComputeSignature(payload, secret)
			}
			if token, _ := cmd.Flags().GetString("bearer"); token != "" {
				headers["Authorization"] = "Bearer " + token
			}
			path := "/teamwork-webhook"
			if ch, _ := cmd.Flags().GetString("channel"); ch != "" {
				path += "?channel=" + url.QueryEscape(ch)
			}
			body, err := newClient(cmd).do(http.MethodPost, path, payload, headers)
			if err != nil {
				return err
			}
			if len(body) == 0 {
				fmt.Println("ignored (204)")
				return nil
			}
			fmt.Println(string(body))
			return nil
		},
	}
	cmd.Flags().String("secret", os.Getenv("DESKBRIDGE_WEBHOOK_SECRET"), "Sign the payload with this HMAC secret.")
	cmd.Flags().String("bearer", os.Getenv("DESKBRIDGE_WEBHOOK_BEARER_TOKEN"), "Bearer token for the webhook.")
	cmd.Flags().String("channel", "", "Channel override.")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file together with the environment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.Load(path); err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Println("config is valid")
			return nil
		},
	})
	return cmd
}

// --- Helpers ---

type client struct {
	base string
	key  string
	http *http.Client
}

func newClient(cmd *cobra.Command) *client {
	base, _ := cmd.Flags().GetString("url")
	key, _ := cmd.Flags().GetString("api-key")
	return &client{base: base, key: key, http: &http.Client{Timeout: 2 * time.Minute}}
}

func (c *client) do(method, path string, payload []byte, headers map[string]string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
