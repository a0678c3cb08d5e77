/*
Package types defines the core data structures shared across the search engine.

This package contains the domain model every other package builds on:
entity identities, tenant scopes, indexable records, search results,
presenter fragments, per-entity configuration, queue job payloads, and
reindex locks.

# Core Types

  - EntityID: opaque "<module>:<entity>" identity
  - Scope: (tenantId, organizationId?) pair; every stored or queried item
    is scoped and no read or write may cross tenants
  - Record: the canonical projection strategies ingest
  - Result: a single strategy-local search hit; scores are only comparable
    after rank fusion
  - Presenter / Link: display fragments attached to results
  - EntityConfig: declarative per-entity hooks and field policy
  - Job: the JSON payload shared by the indexing queues
  - ReindexLock: per-(tenant, index type) mutual-exclusion token

All types are designed to be:
  - Serializable (JSON wire format, field names fixed)
  - Self-documenting (clear field names and comments)
  - Free of behavior beyond cheap accessors; logic lives in the
    strategy, orchestrator, and indexer packages
*/
package types
