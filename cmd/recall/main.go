// Command recall is the CLI for the Recall memory service.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/storage"
)

// errRefused signals that the user declined a confirmation prompt.
var errRefused = errors.New("aborted by user")

var (
	flagConfig  string
	flagUserID  string
	flagAgentID string
	flagRunID   string
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "recall",
	Short:         "Long-term memory for conversational agents",
	Long:          "recall stores, reconciles and retrieves agent memories backed by a relational vector store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (yaml or json); env vars apply on top")
	rootCmd.PersistentFlags().StringVar(&flagUserID, "user-id", "", "scope operations to this user")
	rootCmd.PersistentFlags().StringVar(&flagAgentID, "agent-id", "", "scope operations to this agent")
	rootCmd.PersistentFlags().StringVar(&flagRunID, "run-id", "", "scope operations to this run")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable output")

	rootCmd.AddCommand(addCmd, searchCmd, getCmd, updateCmd, deleteCmd,
		listCmd, deleteAllCmd, statsCmd, configCmd, manageCmd,
		interactiveCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errRefused) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the --config file, or environment plus defaults when
// no file was given.
func loadConfig() (*core.Config, error) {
	if flagConfig != "" {
		return core.LoadConfig(flagConfig)
	}
	return core.LoadConfigFromEnv()
}

func newClient() (*core.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return core.NewClient(cfg)
}

func identity() *storage.Identity {
	if flagUserID == "" && flagAgentID == "" && flagRunID == "" {
		return nil
	}
	return &storage.Identity{UserID: flagUserID, AgentID: flagAgentID, RunID: flagRunID}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMemories(memories []*core.Memory) error {
	if flagJSON {
		return printJSON(memories)
	}
	if len(memories) == 0 {
		fmt.Println("no memories")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCORE\tUSER\tAGENT\tCONTENT")
	for _, m := range memories {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%s\n", m.ID, m.Score, m.UserID, m.AgentID, truncate(m.Content, 80))
	}
	return w.Flush()
}

func printMemory(m *core.Memory) error {
	if flagJSON {
		return printJSON(m)
	}
	fmt.Printf("ID:         %d\n", m.ID)
	fmt.Printf("Content:    %s\n", m.Content)
	if m.UserID != "" {
		fmt.Printf("User:       %s\n", m.UserID)
	}
	if m.AgentID != "" {
		fmt.Printf("Agent:      %s\n", m.AgentID)
	}
	if m.RunID != "" {
		fmt.Printf("Run:        %s\n", m.RunID)
	}
	if m.Category != "" {
		fmt.Printf("Category:   %s\n", m.Category)
	}
	if m.MemoryType != "" {
		fmt.Printf("Type:       %s\n", m.MemoryType)
	}
	fmt.Printf("Created:    %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:    %s\n", m.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// confirm asks for an explicit yes. Returns errRefused otherwise.
func confirm(prompt string) error {
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	_, _ = fmt.Scanln(&answer)
	if answer != "y" && answer != "Y" && answer != "yes" {
		return errRefused
	}
	return nil
}
