package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/capsule/internal/engine"
	"github.com/scrypster/capsule/internal/storage"
)

var (
	memoryUser string
	memoryJSON bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Print what the companion remembers about a user",
	Long: `Prints the knowledge summary built from every tag extracted from the
user's entries: the most mentioned values per type, most frequent first.
No model is contacted.`,
	RunE: runMemory,
}

func init() {
	memoryCmd.Flags().StringVarP(&memoryUser, "user", "u", "", "user identifier (required)")
	memoryCmd.Flags().BoolVar(&memoryJSON, "json", false, "print every type with counts as JSON")
	_ = memoryCmd.MarkFlagRequired("user")
}

func runMemory(cmd *cobra.Command, args []string) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	agg := engine.NewKnowledgeAggregator(cfg.Knowledge.MaxValuesPerType, cfg.Knowledge.MaxPreviewChars)
	return printMemory(cmd, store, agg, memoryUser, memoryJSON)
}

func printMemory(cmd *cobra.Command, store storage.Store, agg *engine.KnowledgeAggregator, userID string, asJSON bool) error {
	tags, err := store.GetAllTags(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("load tags for %q: %w", userID, err)
	}
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(agg.Groups(tags))
	}
	return writeSummary(out, agg.Summarize(tags))
}

func writeSummary(out io.Writer, summary string) error {
	_, err := fmt.Fprintln(out, summary)
	return err
}
