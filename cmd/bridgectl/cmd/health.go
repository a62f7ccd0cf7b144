package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the agent",
	Long:  `Check the health status of a running macbridge agent over its front door.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeRequest(http.MethodGet, "/healthz", nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := decodeBody(resp)
		if err != nil {
			return err
		}

		if outputJSON {
			printOutput(body)
			return nil
		}

		if resp.StatusCode == http.StatusOK {
			fmt.Println("✓ Agent is healthy")
			if depth, ok := body["queue_depth"]; ok {
				fmt.Printf("  queue depth: %v\n", depth)
			}
		} else {
			fmt.Printf("✗ Agent is unhealthy (HTTP %d)\n", resp.StatusCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
