package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a hybrid search query",
	Long: `Run a query across the configured strategies and print the merged
results as JSON. Strategies that are down are skipped; the command only
fails when no strategy is available at all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true

		queryText, _ := cmd.Flags().GetString("query")
		tenantID, _ := cmd.Flags().GetString("tenant")
		orgID, _ := cmd.Flags().GetString("org")
		entityList, _ := cmd.Flags().GetString("entity")
		strategyList, _ := cmd.Flags().GetString("strategy")
		limit, _ := cmd.Flags().GetInt("limit")

		if queryText == "" {
			return usageErrorf("--query is required")
		}
		if tenantID == "" {
			return usageErrorf("--tenant is required")
		}

		svc, cleanup, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		opts := types.SearchOptions{
			TenantID:       tenantID,
			OrganizationID: orgID,
			Limit:          limit,
		}
		if entityList != "" {
			for _, raw := range strings.Split(entityList, ",") {
				id, err := types.ParseEntityID(strings.TrimSpace(raw))
				if err != nil {
					return usageErrorf("%v", err)
				}
				if svc.indexer.Registry().Get(id) == nil {
					return usageErrorf("entity %s is not registered for search", id)
				}
				opts.EntityTypes = append(opts.EntityTypes, id)
			}
		}
		if strategyList != "" {
			for _, raw := range strings.Split(strategyList, ",") {
				id := strings.TrimSpace(raw)
				if _, ok := svc.strategies.Get(id); !ok {
					return usageErrorf("unknown strategy %q", id)
				}
				opts.Strategies = append(opts.Strategies, id)
			}
		}

		results, err := svc.orchestrator.Search(cmd.Context(), queryText, opts)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d results\n", len(results))
		return nil
	},
}

func init() {
	queryCmd.Flags().String("query", "", "Query text (required)")
	queryCmd.Flags().String("tenant", "", "Tenant id (required)")
	queryCmd.Flags().String("org", "", "Organization id")
	queryCmd.Flags().String("entity", "", "Comma-separated entity ids to search")
	queryCmd.Flags().String("strategy", "", "Comma-separated strategy ids to use")
	queryCmd.Flags().Int("limit", 0, "Maximum results (default 20)")
}
