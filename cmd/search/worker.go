package main

import (
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/metrics"
	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
	"github.com/open-mercato/open-mercato-sub000/pkg/subscriber"
	"github.com/open-mercato/open-mercato-sub000/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker <queue-name>",
	Short: "Consume an indexing queue",
	Long: `Run a worker that consumes the named indexing queue until
interrupted. The worker also subscribes to the application event bus so
record-change events keep feeding the queues while it runs.

Each queue is consumed by a single loop so jobs touching the same record
apply in the order they were submitted; --concurrency parallelizes the
records inside one batch job instead. Run one worker process per queue
and use separate queues to scale out.

Queue names: ` + queue.QueueVectorIndexing + `, ` + queue.QueueFulltextIndexing + `.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandRan = true

		queueName := args[0]
		if queueName != queue.QueueVectorIndexing && queueName != queue.QueueFulltextIndexing {
			return usageErrorf("unknown queue %q", queueName)
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency < 1 {
			concurrency = 1
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		svc, cleanup, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := worker.New(svc.indexer, svc.embeddings, svc.modcfg, svc.bus, worker.Options{
			DisableVectorAutoIndexing:   svc.cfg.DisableVectorAutoIndexing,
			DisableFulltextAutoIndexing: svc.cfg.DisableFulltextAutoIndexing,
			Heartbeat:                   svc.reindex.Heartbeat,
			BatchConcurrency:            concurrency,
		})

		sub := subscriber.New(svc.bus, svc.queue, svc.indexer.Registry(), svc.engine, subscriber.Options{
			DisableVectorAutoIndexing:   svc.cfg.DisableVectorAutoIndexing,
			DisableFulltextAutoIndexing: svc.cfg.DisableFulltextAutoIndexing,
		})
		sub.Start(ctx)

		if metricsAddr != "" {
			server := &http.Server{Addr: metricsAddr, Handler: metricsMux()}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.WithComponent("worker").Error().Err(err).Msg("metrics server failed")
				}
			}()
			defer server.Close()
		}

		// One consumer loop per queue keeps same-record jobs in
		// submission order.
		err = w.Run(ctx, svc.queue, queueName)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	return mux
}

func init() {
	workerCmd.Flags().Int("concurrency", 1, "Parallel record indexing within a batch job")
	workerCmd.Flags().String("metrics-addr", "", "Listen address for /metrics and /health, e.g. :9090")
}
