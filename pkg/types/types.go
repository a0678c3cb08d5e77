package types

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EntityID identifies an indexable entity as "<module>:<entity>"
type EntityID string

// ParseEntityID validates and returns an EntityID
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid entity id %q: expected <module>:<entity>", s)
	}
	return EntityID(s), nil
}

// Module returns the module part of the entity id
func (e EntityID) Module() string {
	parts := strings.SplitN(string(e), ":", 2)
	return parts[0]
}

// Entity returns the entity part of the entity id
func (e EntityID) Entity() string {
	parts := strings.SplitN(string(e), ":", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Label returns a human-readable label derived from the entity name
// ("customers:person_profile" -> "Person Profile")
func (e EntityID) Label() string {
	name := e.Entity()
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// Scope identifies the tenant (and optionally organization) an item belongs to.
// An empty OrganizationID means tenant-wide.
type Scope struct {
	TenantID       string `json:"tenantId"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// Validate checks that the scope carries a tenant
func (s Scope) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("scope is missing tenantId")
	}
	return nil
}

// LinkKind classifies a result link
type LinkKind string

const (
	LinkKindPrimary   LinkKind = "primary"
	LinkKindSecondary LinkKind = "secondary"
)

// Link is an ordered navigation link attached to a result
type Link struct {
	Href  string   `json:"href"`
	Label string   `json:"label"`
	Kind  LinkKind `json:"kind,omitempty"`
}

// Presenter holds the display fragments for a search result.
// It may legitimately be empty before enrichment.
type Presenter struct {
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Badge    string `json:"badge,omitempty"`
}

// IsEmpty reports whether the presenter carries no fragments
func (p *Presenter) IsEmpty() bool {
	return p == nil || (p.Title == "" && p.Subtitle == "" && p.Icon == "" && p.Badge == "")
}

// Record is the canonical projection of a primary-store row that the
// search strategies ingest
type Record struct {
	EntityID       EntityID       `json:"entityId"`
	RecordID       string         `json:"recordId"`
	TenantID       string         `json:"tenantId"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Fields         map[string]any `json:"fields"`
	Presenter      *Presenter     `json:"presenter,omitempty"`
	URL            string         `json:"url,omitempty"`
	Links          []Link         `json:"links,omitempty"`
	Text           []string       `json:"text,omitempty"`
	ChecksumSource any            `json:"checksumSource,omitempty"`
}

// Key returns the deduplication key for the record
func (r *Record) Key() string {
	return string(r.EntityID) + ":" + r.RecordID
}

// Scope returns the record's tenant scope
func (r *Record) Scope() Scope {
	return Scope{TenantID: r.TenantID, OrganizationID: r.OrganizationID}
}

// Result is a single search hit. Score is strategy-local until merging.
type Result struct {
	EntityID  EntityID       `json:"entityId"`
	RecordID  string         `json:"recordId"`
	Score     float64        `json:"score"`
	Source    string         `json:"source"`
	Presenter *Presenter     `json:"presenter,omitempty"`
	URL       string         `json:"url,omitempty"`
	Links     []Link         `json:"links,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Key returns the deduplication key for the result
func (r *Result) Key() string {
	return string(r.EntityID) + ":" + r.RecordID
}

// SearchOptions narrows a query issued to the orchestrator or a strategy
type SearchOptions struct {
	TenantID       string
	OrganizationID string
	EntityTypes    []EntityID
	Strategies     []string
	Limit          int
	MinScore       float64
}

// FieldPolicy declares how an entity's fields may be exposed to strategies
type FieldPolicy struct {
	Searchable []string `json:"searchable,omitempty"`
	HashOnly   []string `json:"hashOnly,omitempty"`
	Excluded   []string `json:"excluded,omitempty"`
}

// EncryptedField maps an encrypted column to its optional deterministic
// hash sibling used for token search
type EncryptedField struct {
	Field     string `json:"field"`
	HashField string `json:"hashField,omitempty"`
}

// Source is what an entity's BuildSource hook produces: the authoritative
// field projection plus optional embedding text and checksum material
type Source struct {
	Fields         map[string]any
	Text           []string
	ChecksumSource any
}

// EntityConfig declares how one entity participates in search.
// All hooks are optional and must be pure with respect to the orchestrator.
type EntityConfig struct {
	EntityID   EntityID
	Enabled    bool
	Priority   int
	Strategies []string

	FieldPolicy     *FieldPolicy
	EncryptedFields []EncryptedField

	// BuildSource refines a raw row into the indexable projection.
	// When nil the row is used as-is.
	BuildSource func(ctx context.Context, row map[string]any) (*Source, error)

	// FormatResult derives display fragments from the projection.
	FormatResult func(ctx context.Context, fields map[string]any) (*Presenter, error)

	// ResolveURL derives the canonical record URL.
	ResolveURL func(ctx context.Context, fields map[string]any) (string, error)

	// ResolveLinks derives the ordered result links.
	ResolveLinks func(ctx context.Context, fields map[string]any) ([]Link, error)
}

// SupportsStrategy reports whether the entity participates in the given
// strategy. An empty whitelist means all strategies.
func (c *EntityConfig) SupportsStrategy(id string) bool {
	if len(c.Strategies) == 0 {
		return true
	}
	for _, s := range c.Strategies {
		if s == id {
			return true
		}
	}
	return false
}

// IndexType separates full-text and vector maintenance paths; reindex
// locks are typed by it so both can run at the same time
type IndexType string

const (
	IndexTypeFulltext IndexType = "fulltext"
	IndexTypeVector   IndexType = "vector"
)

// ReindexLock is the per-(tenant, type) mutual-exclusion token stored in
// the module-config store
type ReindexLock struct {
	Type            IndexType `json:"type"`
	Action          string    `json:"action"`
	TenantID        string    `json:"tenantId"`
	OrganizationID  string    `json:"organizationId,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}
