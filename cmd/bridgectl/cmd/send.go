package cmd

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	sendMessageID string
	sendRecipient string
	sendText      string
	sendMediaURL  string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit an outbound message",
	Long: `Submit an outbound message to the agent's delivery queue.

The agent accepts the message immediately and delivers it asynchronously,
mirroring status transitions to the remote backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendMessageID == "" {
			sendMessageID = uuid.NewString()
		}

		payload := map[string]string{
			"message_id": sendMessageID,
			"recipient":  sendRecipient,
		}
		if sendText != "" {
			payload["text"] = sendText
		}
		if sendMediaURL != "" {
			payload["media_url"] = sendMediaURL
		}

		resp, err := makeRequest(http.MethodPost, "/v1/messages/send", payload)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
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

		if resp.StatusCode == http.StatusAccepted {
			fmt.Printf("✓ Message accepted (id: %s)\n", sendMessageID)
		} else {
			fmt.Printf("✗ Message rejected (HTTP %d): %v\n", resp.StatusCode, body["message"])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendMessageID, "id", "", "message ID (generated when omitted)")
	sendCmd.Flags().StringVar(&sendRecipient, "to", "", "recipient phone number or email (required)")
	sendCmd.Flags().StringVar(&sendText, "text", "", "message text")
	sendCmd.Flags().StringVar(&sendMediaURL, "media-url", "", "public URL of media to attach")
	_ = sendCmd.MarkFlagRequired("to")
}
