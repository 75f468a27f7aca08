package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/burrow/internal/directory"
	"github.com/user/burrow/internal/events"
)

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsListCmd, agentsShowCmd, agentsClearCmd, agentsMessageCmd)
}

// loadDirectory opens the agent store read-side, without starting anything.
func loadDirectory(ctx context.Context) (*directory.Directory, func(), error) {
	cfg := loadConfig()
	store, closeStore, err := openAgentStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	dir := directory.New(store, events.New(), cfg.Retention())
	if _, err := dir.Load(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return dir, closeStore, nil
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect background agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, done, err := loadDirectory(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		agents := dir.List()
		if len(agents) == 0 {
			fmt.Println("No agents.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tLAST ACTIVE\tTASK")
		for _, a := range agents {
			rec := a.Snapshot()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				rec.ID.Short(),
				rec.Status,
				rec.LastActivity.Format("2006-01-02 15:04:05"),
				oneLine(rec.Task, 60),
			)
		}
		return w.Flush()
	},
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an agent's activity log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, done, err := loadDirectory(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		a, err := dir.Lookup(args[0])
		if err != nil {
			return err
		}
		rec := a.Snapshot()
		fmt.Printf("Agent %s [%s]\nCreated: %s\n\n", rec.ID, rec.Status, rec.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, e := range a.Display() {
			switch e.Kind {
			case directory.DisplayToolCall:
				fmt.Printf("[%s] %s %s\n", e.Kind, e.Tool, oneLine(string(e.Input), 100))
				if e.Output != "" {
					fmt.Printf("    -> %s\n", oneLine(e.Output, 100))
				}
			default:
				fmt.Printf("[%s] %s\n", e.Kind, e.Text)
			}
		}
		return nil
	},
}

var agentsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every agent from the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Removed int `json:"removed"`
		}
		if err := callAPI(loadConfig(), http.MethodDelete, "/api/agents", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("Removed %d agent(s).\n", resp.Removed)
		return nil
	},
}

var agentsMessageCmd = &cobra.Command{
	Use:   "message <id> <message...>",
	Short: "Send a message to an agent, resuming it if completed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			ID      string `json:"id"`
			Resumed bool   `json:"resumed"`
		}
		body := map[string]string{"message": strings.Join(args[1:], " ")}
		if err := callAPI(loadConfig(), http.MethodPost, "/api/agents/"+args[0]+"/messages", body, &resp); err != nil {
			return err
		}
		if resp.Resumed {
			fmt.Printf("Agent %s resumed.\n", resp.ID)
		} else {
			fmt.Printf("Message queued for agent %s.\n", resp.ID)
		}
		return nil
	},
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
