package grpc

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const checkTimeout = 2 * time.Second

// Check vérifie une dépendance (Redis, Postgres, NATS...)
type Check func(ctx context.Context) error

// HealthReporter publie l'état des dépendances sur le protocole grpc.health.v1.
// Le service "" reflète l'état global ; chaque dépendance a son propre nom.
type HealthReporter struct {
	server *health.Server
	checks map[string]Check
}

func NewHealthReporter(checks map[string]Check) *HealthReporter {
	return &HealthReporter{server: health.NewServer(), checks: checks}
}

// NewServer : serveur gRPC instrumenté avec health + reflection
func NewServer(reporter *HealthReporter) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	grpc_health_v1.RegisterHealthServer(s, reporter.server)
	reflection.Register(s)
	return s
}

// CheckOnce exécute toutes les vérifications et met à jour les statuts
func (h *HealthReporter) CheckOnce(ctx context.Context) bool {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.checks[name](cctx)
		cancel()

		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			slog.WarnContext(ctx, "Dependency unhealthy", "dependency", name, "error", err)
		}
		h.server.SetServingStatus(name, status)
	}

	overall := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", overall)
	return healthy
}

// Run rafraîchit les statuts jusqu'à l'annulation du contexte
func (h *HealthReporter) Run(ctx context.Context, every time.Duration) {
	h.CheckOnce(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// Shutdown passe tous les services en NOT_SERVING (drain des load balancers)
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
