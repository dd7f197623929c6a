// Command arcflow is the engine's single binary: it runs the full pipeline
// embedded in one process, or any single one of its seven worker stages for
// horizontal, per-stage scaling, plus a migrate subcommand for schema setup.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arcflow/engine/examples/orderproject"
	"github.com/arcflow/engine/internal/config"
	"github.com/arcflow/engine/internal/controlplane"
	"github.com/arcflow/engine/internal/db"
	"github.com/arcflow/engine/internal/maintenance"
	"github.com/arcflow/engine/pkg/engine"
	"github.com/arcflow/engine/pkg/metrics"
	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/persistence"
	"github.com/arcflow/engine/pkg/queue"
	"github.com/arcflow/engine/pkg/rendezvous"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arcflow",
	Short: "A pipelined, at-least-once workflow engine",
}

var stageFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: the control plane and one or more worker stages",
	Long: `Run the control plane HTTP surface plus the requested worker stages.

--stage all (the default) runs every stage embedded in this process, suitable
for a single-node deployment or local development. Pass --stage with one of
new-instance, next-step, new-event, active-step, completed-step, failed-step,
or observers to run only that stage, for horizontal scaling of the pipeline
across processes sharing the same queue broker and rendezvous table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), stageFlag)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer database.Close()
		log.Println("migrations applied")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&stageFlag, "stage", "all", "worker stage to run, or \"all\"")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// runtime bundles everything a single process needs regardless of which
// stages it runs, so an in-process "all" deployment and a single-stage
// deployment share the exact same wiring code.
type runtime struct {
	deps    *engine.Dependencies
	db      *sql.DB
	metrics *metrics.Metrics
	broker  *queue.Broker
}

func wireRuntime(cfg config.Config) (*runtime, error) {
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	broker := queue.NewBroker(cfg.QueueBufferSize, cfg.QueueVisibilityTimeout)
	rv := rendezvous.NewSharded(cfg.RendezvousShardCount)
	store := persistence.NewPostgres(database)
	project := orderproject.Project()

	deps := engine.NewDependencies(broker, rv, store, project)
	deps.Metrics = metrics.New(prometheus.DefaultRegisterer)

	return &runtime{deps: deps, db: database, metrics: deps.Metrics, broker: broker}, nil
}

func runServe(ctx context.Context, stage string) error {
	cfg := config.Load()
	rt, err := wireRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	router, hub := controlplane.NewRouter(rt.db, rt.deps)
	srv := &http.Server{Addr: cfg.ControlPlaneAddr, Handler: router}
	go func() {
		log.Printf("arcflow: control plane listening on %s", cfg.ControlPlaneAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("arcflow: control plane: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	sweeper := maintenance.NewSweeper(rt.broker, rt.deps.Rendezvous, rt.metrics)
	go func() {
		if err := sweeper.Start(ctx); err != nil {
			log.Printf("arcflow: maintenance sweep: %v", err)
		}
	}()

	workers := stagesFor(stage, rt.deps, hub)
	if len(workers) == 0 {
		return fmt.Errorf("arcflow: unknown stage %q", stage)
	}

	errs := make(chan error, len(workers))
	for _, w := range workers {
		go func(w interface{ Run(context.Context) error }) {
			errs <- w.Run(ctx)
		}(w)
	}

	for range workers {
		if err := <-errs; err != nil {
			log.Printf("arcflow: worker stopped: %v", err)
		}
	}
	return nil
}

func stagesFor(stage string, deps *engine.Dependencies, hub *controlplane.Hub) []interface{ Run(context.Context) error } {
	all := map[string]interface{ Run(context.Context) error }{
		"new-instance":    engine.NewNewInstanceWorker(deps),
		"next-step":       engine.NewNextStepWorker(deps),
		"new-event":       engine.NewNewEventWorker(deps),
		"active-step":     engine.NewActiveStepWorker(deps),
		"completed-step":  engine.NewCompletedStepWorker(deps),
		"failed-step":     engine.NewFailedStepWorker(deps),
		"observers": engine.NewCompletedInstanceObserver(deps, loggingHook("completed"), hub.HookFor("completed")),
	}
	// failed-instance observer is a second named stage sharing the
	// "observers" key's lifecycle; run it alongside rather than gating it
	// behind its own --stage value, since it never makes sense to run one
	// terminal observer without the other.
	failedObserver := engine.NewFailedInstanceObserver(deps, loggingHook("failed"), hub.HookFor("failed"))

	if stage == "all" {
		out := make([]interface{ Run(context.Context) error }, 0, len(all)+1)
		for _, w := range all {
			out = append(out, w)
		}
		return append(out, failedObserver)
	}
	if stage == "observers" {
		return []interface{ Run(context.Context) error }{all["observers"], failedObserver}
	}
	if w, ok := all[stage]; ok {
		return []interface{ Run(context.Context) error }{w}
	}
	return nil
}

func loggingHook(status string) engine.InstanceHook {
	return func(_ context.Context, instance model.WorkflowInstance) error {
		log.Printf("arcflow: instance %s %s (workflow %s)", instance.InstanceId, status, instance.WorkflowName)
		return nil
	}
}
