package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/open-mercato/open-mercato-sub000/pkg/config"
	"github.com/open-mercato/open-mercato-sub000/pkg/crypto"
	"github.com/open-mercato/open-mercato-sub000/pkg/driver/meili"
	"github.com/open-mercato/open-mercato-sub000/pkg/driver/pgvector"
	"github.com/open-mercato/open-mercato-sub000/pkg/embedding"
	"github.com/open-mercato/open-mercato-sub000/pkg/enrich"
	"github.com/open-mercato/open-mercato-sub000/pkg/events"
	"github.com/open-mercato/open-mercato-sub000/pkg/fieldpolicy"
	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/modconfig"
	"github.com/open-mercato/open-mercato-sub000/pkg/orchestrator"
	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
	"github.com/open-mercato/open-mercato-sub000/pkg/reindex"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy/fulltext"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy/token"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy/vector"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// services is the assembled object graph one command runs against
type services struct {
	cfg *config.Config

	strategies   *strategy.Registry
	orchestrator *orchestrator.Orchestrator
	indexer      *indexer.Indexer
	engine       primary.QueryEngine
	queue        queue.Queue
	modcfg       modconfig.Service
	embeddings   *embedding.Service
	bus          *events.Bus
	reindex      *reindex.Controller
}

// buildServices wires the full service graph from configuration. The
// returned cleanup closes every opened backend in reverse order.
func buildServices(ctx context.Context) (*services, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*services, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fail(fmt.Errorf("failed to create data directory: %w", err))
	}

	entityReg := indexer.NewRegistry()
	if err := registerEntities(entityReg, cfg.Entities); err != nil {
		return fail(err)
	}
	resolver := policyResolver(entityReg)

	strategies := strategy.NewRegistry()

	tokenStore, err := token.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fail(fmt.Errorf("failed to open token store: %w", err))
	}
	cleanups = append(cleanups, func() { _ = tokenStore.Close() })
	if err := strategies.Register(token.New(tokenStore, resolver)); err != nil {
		return fail(err)
	}

	meiliDriver := meili.New(cfg.Meilisearch.Host, cfg.Meilisearch.APIKey)
	if err := strategies.Register(fulltext.New(meiliDriver, fulltext.Options{
		IndexPrefix:     cfg.Meilisearch.IndexPrefix,
		ResolvePolicy:   resolver,
		RedactEncrypted: cfg.ExcludeEncryptedFields,
	})); err != nil {
		return fail(err)
	}

	embeddings := embedding.NewServiceFromConfig(cfg.Embedding)

	var db *sqlx.DB
	if cfg.DatabaseURL != "" {
		db, err = sqlx.ConnectContext(ctx, "pgx", cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to primary database: %w", err))
		}
		cleanups = append(cleanups, func() { _ = db.Close() })

		vectorDriver, closeVector, err := pgvector.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("failed to connect vector driver: %w", err))
		}
		cleanups = append(cleanups, closeVector)
		if err := strategies.Register(vector.New(embeddings, vectorDriver)); err != nil {
			return fail(err)
		}
	}

	var engine primary.QueryEngine = primary.NewMemoryEngine()
	if db != nil {
		engine = primary.NewSQLEngine(db)
	}

	var keys crypto.KeyProvider
	var crypt *crypto.Service
	if cfg.EncryptionKey != "" {
		provider, err := crypto.NewStaticKeyProvider(cfg.EncryptionKey)
		if err != nil {
			return fail(fmt.Errorf("failed to derive encryption keys: %w", err))
		}
		keys = provider
		crypt = crypto.NewService(provider)
	}

	orchOpts := orchestrator.Options{}
	if db != nil {
		orchOpts.Enricher = enrich.New(
			primary.NewIndexReader(db), crypt, keys,
			func(entityID types.EntityID) *types.EntityConfig {
				return entityReg.Get(entityID)
			})
	}
	orch := orchestrator.New(strategies, orchOpts)
	ix := indexer.New(entityReg, orch, engine)

	var q queue.Queue
	if cfg.RedisURL != "" {
		q, err = queue.DialRedis(ctx, cfg.RedisURL, 0)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
	} else {
		q = queue.NewMemory(0)
	}
	cleanups = append(cleanups, func() { _ = q.Close() })

	modcfg, err := modconfig.NewBoltService(cfg.DataDir)
	if err != nil {
		return fail(fmt.Errorf("failed to open module-config store: %w", err))
	}
	cleanups = append(cleanups, func() { _ = modcfg.Close() })

	bus := events.NewBus()
	bus.Start()
	cleanups = append(cleanups, bus.Stop)

	return &services{
		cfg:          cfg,
		strategies:   strategies,
		orchestrator: orch,
		indexer:      ix,
		engine:       engine,
		queue:        q,
		modcfg:       modcfg,
		embeddings:   embeddings,
		bus:          bus,
		reindex:      reindex.New(ix, engine, q, modcfg, strategies),
	}, cleanup, nil
}

// registerEntities converts the declarative entity section into registry
// entries. Hook-based refinement is registered in code by embedding
// modules, not here.
func registerEntities(reg *indexer.Registry, entities []config.EntityConfig) error {
	for _, ec := range entities {
		id, err := types.ParseEntityID(ec.ID)
		if err != nil {
			return err
		}
		cfg := &types.EntityConfig{
			EntityID:   id,
			Enabled:    !ec.Disabled,
			Priority:   ec.Priority,
			Strategies: ec.Strategies,
		}
		if ec.Policy != nil {
			cfg.FieldPolicy = &types.FieldPolicy{
				Searchable: ec.Policy.Searchable,
				HashOnly:   ec.Policy.HashOnly,
				Excluded:   ec.Policy.Excluded,
			}
		}
		for _, ef := range ec.EncryptedFields {
			cfg.EncryptedFields = append(cfg.EncryptedFields, types.EncryptedField{
				Field:     ef.Field,
				HashField: ef.HashField,
			})
		}
		if err := reg.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

// policyResolver adapts the entity registry to the field-policy lookup
// the strategies consume
func policyResolver(reg *indexer.Registry) fieldpolicy.Resolver {
	return func(entityID types.EntityID) fieldpolicy.Policy {
		cfg := reg.Get(entityID)
		if cfg == nil {
			return fieldpolicy.Policy{}
		}
		return fieldpolicy.Policy{
			EncryptedFields: cfg.EncryptedFields,
			FieldPolicy:     cfg.FieldPolicy,
		}
	}
}
