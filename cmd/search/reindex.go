package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-mercato/open-mercato-sub000/pkg/reindex"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild search indexes from the primary store",
	Long: `Rebuild the full-text and vector indexes of a tenant by paging every
registered entity out of the primary store. By default the physical
indexes are recreated first; --skipPurge keeps them and overwrites in
place. With --queued the scan enqueues batch jobs for the workers
instead of indexing in-process.

Large tenants can split a rebuild with --partitions/--partition; each
partition takes a disjoint share of the records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true

		tenantID, _ := cmd.Flags().GetString("tenant")
		orgID, _ := cmd.Flags().GetString("org")
		entityRaw, _ := cmd.Flags().GetString("entity")
		typeRaw, _ := cmd.Flags().GetString("type")
		purge, _ := cmd.Flags().GetBool("purge")
		skipPurge, _ := cmd.Flags().GetBool("skipPurge")
		partitions, _ := cmd.Flags().GetInt("partitions")
		partition, _ := cmd.Flags().GetInt("partition")
		batch, _ := cmd.Flags().GetInt("batch")
		force, _ := cmd.Flags().GetBool("force")
		queued, _ := cmd.Flags().GetBool("queued")

		if tenantID == "" {
			return usageErrorf("--tenant is required")
		}
		if purge && skipPurge {
			return usageErrorf("--purge and --skipPurge are mutually exclusive")
		}

		indexTypes, err := parseIndexTypes(typeRaw)
		if err != nil {
			return err
		}

		svc, cleanup, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		opts := reindex.Options{
			TenantID:       tenantID,
			OrganizationID: orgID,
			Queued:         queued,
			RecreateIndex:  !skipPurge,
			Partitions:     partitions,
			Partition:      partition,
			PageSize:       batch,
			Force:          force,
			Progress: func(p reindex.Progress) {
				if p.Phase == reindex.PhaseFetching {
					fmt.Fprintf(os.Stderr, "  %s page %d\n", p.EntityID, p.Page)
				}
			},
		}
		if entityRaw != "" {
			id, err := types.ParseEntityID(entityRaw)
			if err != nil {
				return usageErrorf("%v", err)
			}
			if svc.indexer.Registry().Get(id) == nil {
				return usageErrorf("entity %s is not registered for search", id)
			}
			opts.EntityTypes = []types.EntityID{id}
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		for _, indexType := range indexTypes {
			opts.Type = indexType
			fmt.Fprintf(os.Stderr, "Reindexing %s for tenant %s...\n", indexType, tenantID)

			result, err := svc.reindex.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := encoder.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%s reindex finished with errors", indexType)
			}
		}
		return nil
	},
}

// parseIndexTypes resolves --type; empty means both index families
func parseIndexTypes(raw string) ([]types.IndexType, error) {
	if raw == "" {
		return []types.IndexType{types.IndexTypeFulltext, types.IndexTypeVector}, nil
	}
	var out []types.IndexType
	for _, part := range strings.Split(raw, ",") {
		switch t := types.IndexType(strings.TrimSpace(part)); t {
		case types.IndexTypeFulltext, types.IndexTypeVector:
			out = append(out, t)
		default:
			return nil, usageErrorf("unknown index type %q", part)
		}
	}
	return out, nil
}

func init() {
	reindexCmd.Flags().String("tenant", "", "Tenant id (required)")
	reindexCmd.Flags().String("org", "", "Organization id")
	reindexCmd.Flags().String("entity", "", "Restrict to one entity id")
	reindexCmd.Flags().String("type", "", "Index type: fulltext, vector, or both when omitted")
	reindexCmd.Flags().Bool("purge", false, "Recreate the physical indexes first (default)")
	reindexCmd.Flags().Bool("skipPurge", false, "Keep the physical indexes and overwrite in place")
	reindexCmd.Flags().Int("partitions", 0, "Total number of parallel partitions")
	reindexCmd.Flags().Int("partition", 0, "This run's partition index, 0-based")
	reindexCmd.Flags().Int("batch", 0, "Rows per page (default 200)")
	reindexCmd.Flags().Bool("force", false, "Reclaim an existing reindex lock")
	reindexCmd.Flags().Bool("queued", false, "Enqueue batch jobs instead of indexing in-process")
}
