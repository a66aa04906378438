package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/clearinghouse/internal/server"
	"github.com/alanyoungcy/clearinghouse/internal/server/handler"
	"github.com/alanyoungcy/clearinghouse/internal/server/ws"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

// shutdownTimeout bounds graceful HTTP shutdown on exit.
const shutdownTimeout = 10 * time.Second

// ServeMode restores persisted fill state, starts the WebSocket hub, and
// runs the full clearing API until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.String("operator", deps.Operator.Hex()),
		slog.Int("port", a.cfg.Server.Port),
	)

	if err := deps.Clearing.Restore(ctx); err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	hub := ws.NewHub(
		deps.SignalBus,
		[]string{service.ChannelFills, service.ChannelClaims},
		deps.Metrics,
		a.logger,
	)
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("serve mode: ws hub stopped", slog.String("error", err.Error()))
		}
	}()

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.PG, deps.Redis, a.logger),
		Settlements: handler.NewSettlementHandler(deps.Clearing, a.logger),
		Orders:      handler.NewOrderHandler(deps.Clearing, deps.Engine, deps.FillStore, deps.Hasher, a.logger),
		Claims:      handler.NewClaimHandler(deps.Clearing, deps.ClaimStore, a.logger),
		Vault:       handler.NewVaultHandler(deps.Vault, a.logger),
		Markets:     handler.NewMarketHandler(deps.Market, a.logger),
		Admin:       handler.NewAdminHandler(deps.Engine, deps.Clearing, deps.Market, deps.Operator, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		MatcherSecrets: a.cfg.MatcherSecrets(),
		RateLimit:      a.cfg.Server.RateLimit,
		RateWindow:     a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Metrics, deps.RateLimiter, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("serve mode: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve mode: %w", err)
		}
		return nil
	}
}

// MigrateMode applies pending database migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting migrate mode")

	if err := deps.PG.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}

	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

// ArchiveMode runs one archival pass: fills and claims older than the
// retention window are exported to S3, and audit rows are exported then
// pruned. It exits when the pass completes.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	// Export everything from the epoch up to the cutoff; S3 keys are
	// month-bucketed so repeated runs overwrite the same objects.
	var since time.Time

	var fills, claims int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := deps.Archiver.ArchiveFills(gctx, since, cutoff)
		if err != nil {
			return fmt.Errorf("fills: %w", err)
		}
		fills = n
		return nil
	})
	g.Go(func() error {
		n, err := deps.Archiver.ArchiveClaims(gctx, since, cutoff)
		if err != nil {
			return fmt.Errorf("claims: %w", err)
		}
		claims = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}

	audit, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: audit: %w", err)
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("fills", fills),
		slog.Int64("claims", claims),
		slog.Int64("audit_rows", audit),
	)

	// Inventory report: what the archive holds in total after this pass.
	objects, err := deps.Blobs.List(ctx, "archive/")
	if err != nil {
		a.logger.Warn("archive mode: inventory listing failed", slog.String("error", err.Error()))
		return nil
	}
	var bytes int64
	for _, obj := range objects {
		bytes += obj.Size
	}
	a.logger.InfoContext(ctx, "archive inventory",
		slog.Int("objects", len(objects)),
		slog.Int64("bytes", bytes),
	)
	return nil
}
