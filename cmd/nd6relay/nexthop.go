package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostinger/nd6relay/internal/api"
)

var nexthopCmdArgs struct {
	API     string
	Timeout time.Duration
}

var nexthopCmd = &cobra.Command{
	Use:   "nexthop <destination>",
	Short: "Ask a running relay for the next hop toward a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dst, err := netip.ParseAddr(args[0])
		if err != nil {
			return fmt.Errorf("invalid destination: %w", err)
		}
		hop, err := queryNextHop(nexthopCmdArgs.API, dst, nexthopCmdArgs.Timeout)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hop)
		return nil
	},
}

func init() {
	nexthopCmd.Flags().StringVar(&nexthopCmdArgs.API, "api", "127.0.0.1:54321", "Address of the relay API server")
	nexthopCmd.Flags().DurationVar(&nexthopCmdArgs.Timeout, "timeout", 5*time.Second, "Request timeout")
}

func queryNextHop(server string, dst netip.Addr, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/nexthop/%s", server, dst))
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return "", fmt.Errorf("unexpected status %s", resp.Status)
		}
		return "", fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
	}

	var body struct {
		NextHop string `json:"next_hop"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return body.NextHop, nil
}
