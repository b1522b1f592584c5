package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/pipeline"
	"github.com/JakeFAU/knowledge-engine/internal/server"
)

func newEnqueueCmd() *cobra.Command {
	var ignoreCache bool
	cmd := &cobra.Command{
		Use:   "enqueue URL...",
		Short: "Adds URLs to the fetch queue",
		Long: `Validates and normalizes every URL, then appends them to the fetch
queue in order. Nothing is enqueued if any URL is invalid. The embedded
database is locked by a running service; submit through POST /v1/documents
instead while "run" is active.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				if _, err := knowledge.NormalizeURL(raw); err != nil {
					return err
				}
			}
			return withStores(cmd, func(s *server.Stores) error {
				for _, raw := range args {
					key, err := pipeline.Submit(cmd.Context(), s.Queues.Fetch, raw, ignoreCache)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&ignoreCache, "ignore-cache", false, "re-fetch and re-extract even when results are stored")
	return cmd
}

func newEntitiesCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Lists graph entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStores(cmd, func(s *server.Stores) error {
				entities, err := s.Graph.ListEntities(cmd.Context(), label)
				if err != nil {
					return err
				}
				if entities == nil {
					entities = []knowledge.Entity{}
				}
				return writeJSON(cmd.OutOrStdout(), entities)
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "only entities with this label")
	return cmd
}

func newRelationsCmd() *cobra.Command {
	var relation string
	cmd := &cobra.Command{
		Use:   "relations NAME",
		Short: "Lists relations leaving an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(s *server.Stores) error {
				relations, err := s.Graph.ListRelations(cmd.Context(), args[0], relation)
				if err != nil {
					return err
				}
				if relations == nil {
					relations = []knowledge.Relation{}
				}
				return writeJSON(cmd.OutOrStdout(), relations)
			})
		},
	}
	cmd.Flags().StringVar(&relation, "relation", "", "only relations of this type")
	return cmd
}

func newDocumentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "document URL",
		Short: "Prints the stored record for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := knowledge.NormalizeURL(args[0])
			if err != nil {
				return err
			}
			return withStores(cmd, func(s *server.Stores) error {
				doc, ok, err := s.Documents.Get(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no document stored for %s", key)
				}
				return writeJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
}
