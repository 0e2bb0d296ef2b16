package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/armbridge/armbridge/internal/bridge"
)

var statusAddr string

// statusClient is the HTTP client used by the status command. It can
// be overridden in tests.
var statusClient = &http.Client{Timeout: 5 * time.Second}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's connection status",
	Long: `Queries a running armbridge daemon over its HTTP API and prints a
snapshot of the controller connection.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8090", "daemon API address")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := statusClient.Get(statusAddr + "/api/status")
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var st bridge.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	fmt.Printf("Connected:      %v\n", st.Connected)
	fmt.Printf("Port:           %d\n", st.Port)
	if st.Host != "" {
		fmt.Printf("Host:           %s\n", st.Host)
	}
	if st.SessionID != "" {
		fmt.Printf("Session:        %s\n", st.SessionID)
	}
	fmt.Printf("Session state:  %s\n", st.SessionState)
	fmt.Printf("Cycles:         %d\n", st.Cycles)
	fmt.Printf("Publish skips:  %d\n", st.PublishSkips)
	fmt.Printf("Command drops:  %d\n", st.CommandDrops)
	if st.LastExit != "" {
		fmt.Printf("Last exit:      %s\n", st.LastExit)
	}
	return nil
}
