package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"dtp-claims/internal/indexer"
	"dtp-claims/internal/observability"
	"dtp-claims/internal/storage"
	"dtp-claims/internal/storage/clickhouse"
	"dtp-claims/internal/storage/memory"
	pgstore "dtp-claims/internal/storage/postgres"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		stores       []string
		startBlock   uint64
		chunkBlocks  uint64
		pollInterval time.Duration
		metricsAddr  string
		once         bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Index published claims into storage and follow new blocks",
		Long: `Copy the registry's ClaimPublished events into one or more stores,
starting after the last indexed block, then keep following the chain head.

Stores: memory, postgres (--postgres-dsn), clickhouse (--clickhouse-dsn).
Without --store every store with a configured DSN is used. The checkpoint
lives in Postgres when it is configured.`,
		Example: `  dtp sync --postgres-dsn postgres://localhost/dtp
  dtp sync --store postgres,clickhouse --metrics-addr :9090
  dtp sync --once --start-block 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := a.commandContext(cmd.Context(), once)
			defer cancel()

			if len(stores) == 0 {
				stores = a.configuredStores()
			}

			var (
				sinks    []indexer.Sink
				progress storage.SyncProgressStore = memory.NewSyncProgressStore()
			)
			for _, name := range stores {
				switch name {
				case "memory":
					sinks = append(sinks, indexer.Sink{Name: name, Store: memory.NewClaimEventStore()})
				case "postgres":
					pool, err := a.postgres(ctx, rt)
					if err != nil {
						return err
					}
					if pool == nil {
						return fmt.Errorf("store postgres needs --%s", keyPostgresDSN)
					}
					sinks = append(sinks, indexer.Sink{Name: name, Store: pgstore.NewClaimEventStore(pool)})
					progress = pgstore.NewSyncProgressStore(pool)
				case "clickhouse":
					conn, err := a.clickhouse(ctx, rt)
					if err != nil {
						return err
					}
					if conn == nil {
						return fmt.Errorf("store clickhouse needs --%s", keyClickhouseDSN)
					}
					sinks = append(sinks, indexer.Sink{Name: name, Store: clickhouse.NewClaimEventStore(conn)})
				default:
					return fmt.Errorf("--store: unknown store %q (memory, postgres, clickhouse)", name)
				}
			}

			if metricsAddr != "" {
				stop := serveMetrics(ctx, metricsAddr, rt)
				defer stop()
			}

			syncer := indexer.NewSyncer(rt.resolver, rt.conn, indexer.Options{
				Sinks:        sinks,
				Progress:     progress,
				StartBlock:   startBlock,
				ChunkBlocks:  chunkBlocks,
				PollInterval: pollInterval,
				Logger:       rt.logger,
			})

			if once {
				result, err := syncer.SyncOnce(ctx, rt.chainID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed blocks %d-%d: %d event(s), %d stored, %d duplicate(s)\n",
					result.FromBlock, result.ToBlock, result.EventsFetched, result.EventsStored, result.DuplicatesSkipped)
				return nil
			}

			err = syncer.Run(ctx, rt.chainID)
			if errors.Is(err, context.Canceled) {
				rt.logger.Println("Shutdown complete")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&stores, "store", nil, "stores to index into: memory, postgres, clickhouse")
	cmd.Flags().Uint64Var(&startBlock, "start-block", 0, "first block to index when no checkpoint exists")
	cmd.Flags().Uint64Var(&chunkBlocks, "chunk-blocks", 10000, "blocks indexed between checkpoints")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "head polling interval without a websocket")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")
	cmd.Flags().BoolVar(&once, "once", false, "index up to the current head and exit")
	return cmd
}

// configuredStores lists the stores that have a DSN, or memory when none has.
func (a *app) configuredStores() []string {
	var out []string
	if a.v.GetString(keyPostgresDSN) != "" {
		out = append(out, "postgres")
	}
	if a.v.GetString(keyClickhouseDSN) != "" {
		out = append(out, "clickhouse")
	}
	if len(out) == 0 {
		out = append(out, "memory")
	}
	return out
}

// serveMetrics exposes /metrics and /health until the returned stop is called.
func serveMetrics(ctx context.Context, addr string, rt *runtime) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		rt.logger.Printf("Starting metrics server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Printf("Metrics server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
