package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and verify configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// API keys and provider secrets stay out of the output.
		redacted := *cfg
		redacted.LLM.APIKey = redact(cfg.LLM.APIKey)
		redacted.Embedder.APIKey = redact(cfg.Embedder.APIKey)
		redacted.Reranker.APIKey = redact(cfg.Reranker.APIKey)
		redacted.VectorStore.Password = redact(cfg.VectorStore.Password)
		redacted.Server.APIKeys = nil
		return printJSON(redacted)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without connecting anywhere",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

var configTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Validate and connect to the configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := client.Statistics(ctx, nil); err != nil {
			return fmt.Errorf("storage check failed: %w", err)
		}

		caps := client.Capabilities()
		fmt.Println("all providers reachable")
		fmt.Printf("capabilities: full_text=%v sparse=%v native_hybrid=%v\n",
			caps.FullText, caps.Sparse, caps.NativeHybrid)
		return nil
	},
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd, configTestCmd)
}
