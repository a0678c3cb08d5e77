package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show strategy availability and queue depths",
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true

		svc, cleanup, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		fmt.Printf("Search %s (commit %s)\n\n", Version, Commit)

		fmt.Println("Strategies:")
		for _, s := range svc.strategies.All() {
			state := "unavailable"
			if s.IsAvailable(cmd.Context()) {
				state = "available"
			}
			fmt.Printf("  %-10s %-22s priority %-3d %s\n", s.ID(), s.Name(), s.Priority(), state)
		}

		fmt.Println("\nQueues:")
		for _, name := range []string{queue.QueueVectorIndexing, queue.QueueFulltextIndexing} {
			counts, err := svc.queue.JobCounts(cmd.Context(), name)
			if err != nil {
				fmt.Printf("  %-20s unavailable: %v\n", name, err)
				continue
			}
			fmt.Printf("  %-20s waiting %-5d active %-5d failed %d\n",
				name, counts.Waiting, counts.Active, counts.Failed)
		}

		entities := svc.indexer.Registry().All()
		fmt.Printf("\nEntities: %d registered\n", len(entities))
		for _, cfg := range entities {
			strategies := "all"
			if len(cfg.Strategies) > 0 {
				strategies = fmt.Sprintf("%v", cfg.Strategies)
			}
			fmt.Printf("  %-30s strategies %s\n", cfg.EntityID, strategies)
		}
		return nil
	},
}
