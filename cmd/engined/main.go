package main

import (
	"context"
	"fmt"
	"os"

	"github.com/axiomflow/orchestrator/cmd/engined/routes"
	"github.com/axiomflow/orchestrator/common/bootstrap"
	"github.com/axiomflow/orchestrator/common/server"
	"github.com/axiomflow/orchestrator/queue"
	"github.com/axiomflow/orchestrator/router"
)

func main() {
	ctx := context.Background()

	// Bootstrap engine components (cache, queue, router, workflow engine)
	components, err := bootstrap.Setup(ctx, "engined")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap engined: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Register the built-in local provider so the engine runs standalone;
	// real deployments register SDK-backed providers here.
	local := newLocalProvider()
	if err := local.Initialize(ctx, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize local provider: %v\n", err)
		os.Exit(1)
	}
	if err := components.Router.Register("local", local, router.ProviderOpts{}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register local provider: %v\n", err)
		os.Exit(1)
	}

	components.WireRouterExecution(func(ctx context.Context, providerID string, job *queue.Job) (any, error) {
		return local.Run(ctx, job)
	})

	if err := components.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start engine: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(&server.Opts{
		Name:    "engined",
		Port:    components.Config.Service.Port,
		Logger:  components.Logger,
		Metrics: components.Metrics.Handler(),
		Checks: []server.Check{
			{Name: "components", Probe: components.Health},
		},
	})
	routes.Register(srv.Echo(), components)

	if err := srv.Start(); err != nil {
		components.Logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
