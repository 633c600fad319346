package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pscheid92/eventrelay/internal/platform/version"
	"github.com/pscheid92/eventrelay/internal/relay"
	"github.com/spf13/cobra"
)

type topicsOptions struct {
	apiURL    string
	eventType string
	asJSON    bool
	timeout   time.Duration
}

func newTopicsCmd() *cobra.Command {
	opts := &topicsOptions{}

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Print the relay's topic table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := fetchTopics(cmd, opts)
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot)
			}
			return printTopics(cmd, snapshot)
		},
	}
	cmd.Flags().StringVar(&opts.apiURL, "api", "http://localhost:8080", "Relay HTTP base URL")
	cmd.Flags().StringVar(&opts.eventType, "type", "", "Only list topics of this event type or category wildcard")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the raw JSON response")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func fetchTopics(cmd *cobra.Command, opts *topicsOptions) (relay.Snapshot, error) {
	var snapshot relay.Snapshot

	endpoint, err := url.JoinPath(opts.apiURL, "/api/topics")
	if err != nil {
		return snapshot, fmt.Errorf("invalid api url: %w", err)
	}
	if opts.eventType != "" {
		endpoint += "?type=" + url.QueryEscape(opts.eventType)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return snapshot, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	client := &http.Client{Timeout: opts.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return snapshot, fmt.Errorf("fetch topics: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return snapshot, fmt.Errorf("relay returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return snapshot, fmt.Errorf("decode topics: %w", err)
	}
	return snapshot, nil
}

func printTopics(cmd *cobra.Command, snapshot relay.Snapshot) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "TYPE\tOBJECT\tHANDLERS\n")
	for _, t := range snapshot.Topics {
		objectID := t.Topic.ObjectID
		if objectID == "" {
			objectID = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", t.Topic.Type, objectID, t.Handlers)
	}
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 8))
	fmt.Fprintf(w, "%d topics, %d handlers, %d ports\n", len(snapshot.Topics), snapshot.Handlers, snapshot.Ports)
	return w.Flush()
}
