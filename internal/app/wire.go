package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/alanyoungcy/clearinghouse/internal/blob/s3"
	"github.com/alanyoungcy/clearinghouse/internal/cache/redis"
	"github.com/alanyoungcy/clearinghouse/internal/config"
	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/engine"
	"github.com/alanyoungcy/clearinghouse/internal/market"
	"github.com/alanyoungcy/clearinghouse/internal/metrics"
	"github.com/alanyoungcy/clearinghouse/internal/positions"
	"github.com/alanyoungcy/clearinghouse/internal/resolver"
	"github.com/alanyoungcy/clearinghouse/internal/service"
	"github.com/alanyoungcy/clearinghouse/internal/store/postgres"
	"github.com/alanyoungcy/clearinghouse/internal/vault"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Identity
	Operator common.Address
	Hasher   *crypto.OrderHasher

	// Clearing core
	Engine   *engine.Engine
	Vault    *vault.Vault
	Registry *market.Registry

	// Stores
	PG         *postgres.Client
	FillStore  domain.FillStore
	ClaimStore domain.ClaimStore
	OrderState domain.OrderStateStore
	Markets    domain.MarketStore
	Audit      domain.AuditStore

	// Caches
	Redis       *redis.Client
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver
	Blobs    domain.BlobReader

	// Services
	Clearing *service.ClearingService
	Market   *service.MarketService

	Metrics *metrics.Metrics
}

// engineIdentity is the address the engine presents on privileged vault and
// position-ledger calls. It only needs to be unguessable by traders, not
// backed by a key.
var engineIdentity = common.BytesToAddress(ethcrypto.Keccak256([]byte("clearinghouse/engine"))[12:])

// needsRedis returns true for modes that require the cache layer.
func needsRedis(mode string) bool {
	return mode == "serve"
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	return mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode persists or reads something) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.PG = pgClient

	// Migrate mode applies migrations itself; serve applies them on start
	// when enabled.
	if mode == "serve" && cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.FillStore = postgres.NewFillStore(pool)
	deps.ClaimStore = postgres.NewClaimStore(pool)
	deps.OrderState = postgres.NewOrderStateStore(pool)
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if needsS3(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		// Fail fast on a misconfigured bucket rather than mid-pass.
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		reader := s3blob.NewReader(s3Client)
		deps.Blobs = reader
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			reader,
			deps.FillStore,
			deps.ClaimStore,
			deps.Audit,
		)
	}

	// --- Clearing core (serve mode only) ---
	if mode == "serve" {
		if err := wireClearing(cfg, deps, logger); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: clearing: %w", err)
		}
	}

	return deps, cleanup, nil
}

// wireClearing builds the engine with its vault, position ledger, market
// registry, and resolver, applies the configured roles and fees, and wraps
// everything in the service layer.
func wireClearing(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("operator key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, cfg.Chain.ChainID)
	if err != nil {
		return fmt.Errorf("operator signer: %w", err)
	}
	operator := signer.Address()
	authority := common.HexToAddress(cfg.Clearing.Authority)

	deps.Operator = operator
	deps.Hasher = crypto.NewOrderHasher(cfg.Chain.ChainID)

	collateral := vault.New(operator, logger)
	ledger := positions.New(operator)
	registry := market.NewRegistry(operator)
	resolv := resolver.New(authority)

	if err := collateral.SetEngine(operator, engineIdentity); err != nil {
		return fmt.Errorf("vault engine: %w", err)
	}
	if err := ledger.SetEngine(operator, engineIdentity); err != nil {
		return fmt.Errorf("ledger engine: %w", err)
	}
	// The resolver is in-process; the authority identity is configuration,
	// not a key, so the wiring may speak for it here.
	if err := resolv.SetEngine(authority, engineIdentity); err != nil {
		return fmt.Errorf("resolver engine: %w", err)
	}

	fees, err := engine.NewFeeSchedule(cfg.Clearing.DefaultTradeFeeBps, cfg.Clearing.DefaultClaimFeeBps)
	if err != nil {
		return fmt.Errorf("fee schedule: %w", err)
	}

	eng := engine.New(engine.Deps{
		Self:      engineIdentity,
		Authority: authority,
		Access:    engine.NewAccess(operator),
		Fees:      fees,
		Hasher:    deps.Hasher,
		Vault:     collateral,
		Positions: ledger,
		Markets:   registry,
		Resolver:  resolv,
		Logger:    logger,
	})

	if cfg.Clearing.Treasury != "" {
		if err := eng.SetTreasury(operator, common.HexToAddress(cfg.Clearing.Treasury)); err != nil {
			return fmt.Errorf("treasury: %w", err)
		}
	}
	for _, m := range cfg.MatcherAddresses() {
		if err := eng.AddMatcher(operator, m); err != nil {
			return fmt.Errorf("matcher %s: %w", m.Hex(), err)
		}
	}
	for _, h := range cfg.InventoryHolderAddresses() {
		if err := eng.AddInventoryHolder(operator, h); err != nil {
			return fmt.Errorf("inventory holder %s: %w", h.Hex(), err)
		}
	}

	deps.Engine = eng
	deps.Vault = collateral
	deps.Registry = registry
	deps.Metrics = metrics.New("clearinghouse")

	deps.Clearing = service.New(service.Deps{
		Engine:     eng,
		Fills:      deps.FillStore,
		Claims:     deps.ClaimStore,
		OrderState: deps.OrderState,
		Audit:      deps.Audit,
		Locks:      deps.LockManager,
		Bus:        deps.SignalBus,
		Metrics:    deps.Metrics,
		Logger:     logger,
	})
	deps.Market = service.NewMarketService(registry, deps.Markets, deps.Audit, logger)

	return nil
}
