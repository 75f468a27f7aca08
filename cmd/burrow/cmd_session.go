package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd, clearCmd)
	sendCmd.Flags().Bool("no-wait", false, "queue the message and return immediately")
}

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message to the main conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noWait, _ := cmd.Flags().GetBool("no-wait")
		body := map[string]any{"content": strings.Join(args, " "), "wait": !noWait}

		var resp struct {
			Response    string `json:"response"`
			QueueLength int    `json:"queue_length"`
		}
		if err := callAPI(loadConfig(), http.MethodPost, "/api/messages", body, &resp); err != nil {
			return err
		}
		if noWait {
			fmt.Fprintf(os.Stdout, "Queued (%d pending).\n", resp.QueueLength)
			return nil
		}
		fmt.Println(resp.Response)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the main conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := callAPI(loadConfig(), http.MethodDelete, "/api/messages", nil, nil); err != nil {
			return err
		}
		fmt.Println("Conversation cleared.")
		return nil
	},
}
