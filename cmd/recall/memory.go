package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall-go/pkg/core"
)

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		infer, _ := cmd.Flags().GetBool("infer")
		category, _ := cmd.Flags().GetString("category")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		opts := []core.AddOption{
			core.WithUserID(flagUserID),
			core.WithAgentID(flagAgentID),
			core.WithRunID(flagRunID),
			core.WithInfer(infer),
		}
		if category != "" {
			opts = append(opts, core.WithCategory(category))
		}
		if metadataStr != "" {
			var metadata map[string]interface{}
			if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
				return fmt.Errorf("invalid metadata JSON: %w", err)
			}
			opts = append(opts, core.WithMetadata(metadata))
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Add(context.Background(), args[0], opts...)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(result)
		}
		for _, r := range result.Results {
			switch {
			case r.Reason != "":
				fmt.Printf("%s (%s): %s\n", r.Event, r.Reason, truncate(r.Content, 80))
			case r.ID != 0:
				fmt.Printf("%s %d: %s\n", r.Event, r.ID, truncate(r.Content, 80))
			default:
				fmt.Printf("%s: %s\n", r.Event, truncate(r.Content, 80))
			}
		}
		if len(result.Results) == 0 {
			fmt.Println("nothing extracted")
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by hybrid relevance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		memories, err := client.Search(context.Background(), args[0],
			core.WithUserIDForSearch(flagUserID),
			core.WithAgentIDForSearch(flagAgentID),
			core.WithRunIDForSearch(flagRunID),
			core.WithLimit(limit),
			core.WithThreshold(threshold))
		if err != nil {
			return err
		}
		return printMemories(memories)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("id must be an integer: %w", err)
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		m, err := client.Get(context.Background(), id,
			core.WithUserIDForGet(flagUserID),
			core.WithAgentIDForGet(flagAgentID))
		if err != nil {
			return err
		}
		return printMemory(m)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id> <content>",
	Short: "Rewrite a memory's content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("id must be an integer: %w", err)
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		m, err := client.Update(context.Background(), id, args[1],
			core.WithUserIDForUpdate(flagUserID),
			core.WithAgentIDForUpdate(flagAgentID))
		if err != nil {
			return err
		}
		return printMemory(m)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("id must be an integer: %w", err)
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Delete(context.Background(), id,
			core.WithUserIDForDelete(flagUserID),
			core.WithAgentIDForDelete(flagAgentID)); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]interface{}{"deleted": id})
		}
		fmt.Printf("deleted %d\n", id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		memories, err := client.GetAll(context.Background(),
			core.WithUserIDForGetAll(flagUserID),
			core.WithAgentIDForGetAll(flagAgentID),
			core.WithRunIDForGetAll(flagRunID),
			core.WithLimitForGetAll(limit),
			core.WithOffset(offset))
		if err != nil {
			return err
		}
		return printMemories(memories)
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every memory matching the identity flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			if err := confirm("Delete all matching memories?"); err != nil {
				return err
			}
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := client.DeleteAll(context.Background(),
			core.WithUserIDForDeleteAll(flagUserID),
			core.WithAgentIDForDeleteAll(flagAgentID),
			core.WithRunIDForDeleteAll(flagRunID))
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]int64{"deleted": n})
		}
		fmt.Printf("deleted %d memories\n", n)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		stats, err := client.Statistics(context.Background(), identity())
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(stats)
		}
		fmt.Printf("Total memories: %d\n", stats.Total)
		printCountMap("By type", stats.ByMemoryType)
		printCountMap("By category", stats.ByCategory)
		printCountMap("By age", stats.AgeBuckets)
		return nil
	},
}

func printCountMap(title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for k, v := range counts {
		fmt.Printf("  %s: %d\n", k, v)
	}
}

func init() {
	addCmd.Flags().Bool("infer", true, "extract and reconcile facts with the LLM")
	addCmd.Flags().String("category", "", "category tag")
	addCmd.Flags().String("metadata", "", "metadata as a JSON object")

	searchCmd.Flags().Int("limit", 10, "maximum results")
	searchCmd.Flags().Float64("threshold", 0, "minimum dense score")

	listCmd.Flags().Int("limit", 100, "maximum results")
	listCmd.Flags().Int("offset", 0, "pagination offset")

	deleteAllCmd.Flags().Bool("force", false, "skip the confirmation prompt")
}
