package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index a single record across all strategies",
	Long: `Load one record from the primary store, run its entity hooks, and
write it to every strategy the entity participates in. Records that no
longer exist are deleted from the indexes instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true

		entityRaw, _ := cmd.Flags().GetString("entity")
		recordID, _ := cmd.Flags().GetString("record")
		tenantID, _ := cmd.Flags().GetString("tenant")
		orgID, _ := cmd.Flags().GetString("org")

		if entityRaw == "" {
			return usageErrorf("--entity is required")
		}
		if recordID == "" {
			return usageErrorf("--record is required")
		}
		if tenantID == "" {
			return usageErrorf("--tenant is required")
		}
		entityID, err := types.ParseEntityID(entityRaw)
		if err != nil {
			return usageErrorf("%v", err)
		}

		svc, cleanup, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if svc.indexer.Registry().Get(entityID) == nil {
			return usageErrorf("entity %s is not registered for search", entityID)
		}

		scope := types.Scope{TenantID: tenantID, OrganizationID: orgID}
		action, err := svc.indexer.IndexRecordByID(cmd.Context(), entityID, recordID, scope, nil)
		if err != nil {
			return err
		}

		if action == indexer.ActionIndexed {
			fmt.Printf("✓ Indexed %s/%s\n", entityID, recordID)
			return nil
		}

		// The row is gone or out of scope; drop whatever the indexes
		// still hold for it.
		if err := svc.indexer.DeleteRecord(cmd.Context(), entityID, recordID, tenantID, nil); err != nil {
			return err
		}
		fmt.Printf("✓ Record %s/%s absent from primary store, removed from indexes\n", entityID, recordID)
		return nil
	},
}

func init() {
	indexCmd.Flags().String("entity", "", "Entity id, e.g. directory:user (required)")
	indexCmd.Flags().String("record", "", "Record id (required)")
	indexCmd.Flags().String("tenant", "", "Tenant id (required)")
	indexCmd.Flags().String("org", "", "Organization id")
}
