package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall-go/pkg/core"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Interactive memory shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		fmt.Println("recall interactive shell. Commands: add, search, get, delete, list, stats, help, quit")
		scanner := bufio.NewScanner(os.Stdin)
		ctx := context.Background()

		for {
			fmt.Print("recall> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			verb, rest, _ := strings.Cut(line, " ")
			rest = strings.TrimSpace(rest)

			switch verb {
			case "quit", "exit":
				return nil
			case "help":
				fmt.Println("  add <text>      store a memory (runs inference)")
				fmt.Println("  search <query>  hybrid search")
				fmt.Println("  get <id>        show one memory")
				fmt.Println("  delete <id>     delete one memory")
				fmt.Println("  list            list memories")
				fmt.Println("  stats           collection statistics")
				fmt.Println("  quit            leave the shell")
			case "add":
				if rest == "" {
					fmt.Println("usage: add <text>")
					continue
				}
				result, err := client.Add(ctx, rest,
					core.WithUserID(flagUserID),
					core.WithAgentID(flagAgentID),
					core.WithRunID(flagRunID))
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				for _, r := range result.Results {
					fmt.Printf("  %s: %s\n", r.Event, truncate(r.Content, 70))
				}
				if len(result.Results) == 0 {
					fmt.Println("  nothing extracted")
				}
			case "search":
				if rest == "" {
					fmt.Println("usage: search <query>")
					continue
				}
				memories, err := client.Search(ctx, rest,
					core.WithUserIDForSearch(flagUserID),
					core.WithAgentIDForSearch(flagAgentID),
					core.WithLimit(5))
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				for _, m := range memories {
					fmt.Printf("  [%.3f] %d: %s\n", m.Score, m.ID, truncate(m.Content, 70))
				}
				if len(memories) == 0 {
					fmt.Println("  no matches")
				}
			case "get":
				id, err := strconv.ParseInt(rest, 10, 64)
				if err != nil {
					fmt.Println("usage: get <id>")
					continue
				}
				m, err := client.Get(ctx, id)
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Printf("  %d: %s\n", m.ID, m.Content)
			case "delete":
				id, err := strconv.ParseInt(rest, 10, 64)
				if err != nil {
					fmt.Println("usage: delete <id>")
					continue
				}
				if err := client.Delete(ctx, id); err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Println("  deleted")
			case "list":
				memories, err := client.GetAll(ctx,
					core.WithUserIDForGetAll(flagUserID),
					core.WithAgentIDForGetAll(flagAgentID),
					core.WithLimitForGetAll(20))
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				for _, m := range memories {
					fmt.Printf("  %d: %s\n", m.ID, truncate(m.Content, 70))
				}
				if len(memories) == 0 {
					fmt.Println("  no memories")
				}
			case "stats":
				stats, err := client.Statistics(ctx, identity())
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Printf("  total: %d\n", stats.Total)
			default:
				fmt.Printf("unknown command %q; try help\n", verb)
			}
		}
	},
}
