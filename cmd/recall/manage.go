package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/intelligence"
)

var manageCmd = &cobra.Command{
	Use:   "manage",
	Short: "Administrative operations",
}

var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Export memories as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := core.Backup(context.Background(), client, identity(), f)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]int64{"exported": n})
		}
		fmt.Printf("exported %d memories to %s\n", n, args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Import memories from a JSON-lines backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := core.Restore(context.Background(), client, f)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]int64{"restored": n})
		}
		fmt.Printf("restored %d memories from %s\n", n, args[0])
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Forget memories whose retention decayed below a threshold",
	Long: "Scores every matching memory with the forgetting curve and deletes " +
		"those whose retention fell below --threshold. Reads use updated_at " +
		"as the last touch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		decayRate, _ := cmd.Flags().GetFloat64("decay-rate")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		scorer := intelligence.NewDecayScorer(decayRate, 0)
		ctx := context.Background()

		var stale []*core.Memory
		offset := 0
		const page = 500
		for {
			memories, err := client.GetAll(ctx,
				core.WithUserIDForGetAll(flagUserID),
				core.WithAgentIDForGetAll(flagAgentID),
				core.WithRunIDForGetAll(flagRunID),
				core.WithLimitForGetAll(page),
				core.WithOffset(offset))
			if err != nil {
				return err
			}
			for _, m := range memories {
				if scorer.Retention(m.UpdatedAt) < threshold {
					stale = append(stale, m)
				}
			}
			if len(memories) < page {
				break
			}
			offset += page
		}

		if len(stale) == 0 {
			fmt.Println("nothing to clean up")
			return nil
		}
		if dryRun {
			fmt.Printf("%d memories below retention %.2f (dry run, nothing deleted)\n", len(stale), threshold)
			return nil
		}
		if !force {
			if err := confirm(fmt.Sprintf("Delete %d decayed memories?", len(stale))); err != nil {
				return err
			}
		}

		deleted := 0
		for _, m := range stale {
			if err := client.Delete(ctx, m.ID,
				core.WithUserIDForDelete(flagUserID),
				core.WithAgentIDForDelete(flagAgentID)); err != nil {
				return fmt.Errorf("deleted %d of %d: %w", deleted, len(stale), err)
			}
			deleted++
		}
		if flagJSON {
			return printJSON(map[string]int{"deleted": deleted})
		}
		fmt.Printf("deleted %d decayed memories\n", deleted)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy all memories into the store configured by --target",
	RunE: func(cmd *cobra.Command, args []string) error {
		targetPath, _ := cmd.Flags().GetString("target")
		if targetPath == "" {
			return fmt.Errorf("--target config file is required")
		}

		source, err := newClient()
		if err != nil {
			return err
		}
		defer source.Close()

		targetCfg, err := core.LoadConfig(targetPath)
		if err != nil {
			return fmt.Errorf("target config: %w", err)
		}
		target, err := core.NewClient(targetCfg)
		if err != nil {
			return fmt.Errorf("target client: %w", err)
		}
		defer target.Close()

		// Stream through an in-process pipe so nothing lands on disk.
		pr, pw := io.Pipe()
		ctx := context.Background()

		errCh := make(chan error, 1)
		go func() {
			_, err := core.Backup(ctx, source, identity(), pw)
			pw.CloseWithError(err)
			errCh <- err
		}()

		n, err := core.Restore(ctx, target, pr)
		if err != nil {
			return err
		}
		if err := <-errCh; err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]int64{"migrated": n})
		}
		fmt.Printf("migrated %d memories\n", n)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Float64("threshold", 0.3, "retention cutoff in [0,1]")
	cleanupCmd.Flags().Float64("decay-rate", 0.1, "forgetting curve decay rate")
	cleanupCmd.Flags().Bool("dry-run", false, "report without deleting")
	cleanupCmd.Flags().Bool("force", false, "skip the confirmation prompt")

	migrateCmd.Flags().String("target", "", "config file of the destination store")

	manageCmd.AddCommand(backupCmd, restoreCmd, cleanupCmd, migrateCmd)
}
