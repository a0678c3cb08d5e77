// Package enrich re-materializes presentable search results. Strategies
// may store redacted or partial display fragments; the enricher reads
// the source documents back from the primary projection, decrypts
// protected values and rebuilds title, subtitle, url and links before
// results leave the process.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/open-mercato/open-mercato-sub000/pkg/crypto"
	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// titleFields are tried in order for the fallback title
var titleFields = []string{
	"display_name", "name", "title", "label", "full_name", "brand_name",
	"legal_name", "first_name", "last_name", "preferred_name", "email",
	"primary_email", "code", "sku", "reference", "identifier", "slug",
}

// subtitleFields feed the fallback subtitle, at most three joined
var subtitleFields = []string{
	"description", "summary", "notes", "email", "primary_email", "phone",
	"primary_phone", "status", "type", "kind", "category",
}

// nonTitleKeys never serve as a last-resort title
var nonTitleKeys = map[string]bool{
	"id": true, "tenant_id": true, "organization_id": true,
	"created_at": true, "updated_at": true, "deleted_at": true,
}

const (
	maxFallbackTitleLen = 200
	maxSubtitleLen      = 120
	maxSubtitleParts    = 3

	configCacheTTL = 5 * time.Minute
)

// ConfigSource resolves the entity configuration used for hook-based
// presenter building. May return nil for unknown entities.
type ConfigSource func(entityID types.EntityID) *types.EntityConfig

// Enricher rebuilds presenters for results that need them
type Enricher struct {
	docs    primary.DocReader
	crypt   *crypto.Service
	keys    crypto.KeyProvider
	configs ConfigSource

	// entity config lookups are cached so hot entities do not hit the
	// source on every query
	configCache *gocache.Cache
}

// New creates an enricher. docs and configs may be nil, which disables
// document lookup and hooks respectively; crypt/keys may be nil when no
// fields are encrypted.
func New(docs primary.DocReader, crypt *crypto.Service, keys crypto.KeyProvider, configs ConfigSource) *Enricher {
	return &Enricher{
		docs:        docs,
		crypt:       crypt,
		keys:        keys,
		configs:     configs,
		configCache: gocache.New(configCacheTTL, 2*configCacheTTL),
	}
}

// NeedsEnrichment reports whether a result lacks a usable presenter:
// no title, an encrypted-looking title, or no navigation target at all.
func NeedsEnrichment(r *types.Result) bool {
	if r.Presenter == nil || r.Presenter.Title == "" {
		return true
	}
	if crypto.LooksEncrypted(r.Presenter.Title) {
		return true
	}
	return r.URL == "" && len(r.Links) == 0
}

// Enrich rebuilds presenters in place and returns the same slice.
// Failures degrade to the stored fragments; they never fail the search.
func (e *Enricher) Enrich(ctx context.Context, results []types.Result, scope types.Scope) []types.Result {
	if e == nil || e.docs == nil || len(results) == 0 {
		return results
	}

	// Group the hits that need work by entity so document reads batch.
	byEntity := map[types.EntityID][]int{}
	for i := range results {
		if NeedsEnrichment(&results[i]) {
			byEntity[results[i].EntityID] = append(byEntity[results[i].EntityID], i)
		}
	}
	if len(byEntity) == 0 {
		return results
	}

	deks := newDEKCache(e.keys)
	for entityID, indexes := range byEntity {
		ids := make([]string, len(indexes))
		for i, idx := range indexes {
			ids[i] = results[idx].RecordID
		}
		docs, err := e.docs.Docs(ctx, entityID, scope, ids)
		if err != nil {
			log.WithComponent("enricher").Warn().
				Str("entity_id", string(entityID)).Err(err).
				Msg("failed to load source documents")
			continue
		}
		for _, idx := range indexes {
			doc, ok := docs[results[idx].RecordID]
			if !ok {
				continue
			}
			e.enrichOne(ctx, &results[idx], doc, scope, deks)
		}
	}
	return results
}

func (e *Enricher) enrichOne(ctx context.Context, result *types.Result, doc map[string]any, scope types.Scope, deks *dekCache) {
	fields := e.decryptFields(ctx, doc, scope, deks)

	built := e.buildPresenter(ctx, result.EntityID, fields)
	url, links := e.buildNavigation(ctx, result.EntityID, fields)

	// Stored fragments win when trustworthy: a plaintext title stays, a
	// missing or encrypted-looking one is replaced.
	if result.Presenter == nil {
		result.Presenter = &types.Presenter{}
	}
	if result.Presenter.Title == "" || crypto.LooksEncrypted(result.Presenter.Title) {
		result.Presenter.Title = built.Title
	}
	if result.Presenter.Subtitle == "" || crypto.LooksEncrypted(result.Presenter.Subtitle) {
		result.Presenter.Subtitle = built.Subtitle
	}
	if result.Presenter.Badge == "" {
		result.Presenter.Badge = built.Badge
	}
	if result.Presenter.Icon == "" {
		result.Presenter.Icon = built.Icon
	}
	if result.URL == "" {
		result.URL = url
	}
	if len(result.Links) == 0 {
		result.Links = links
	}
}

// decryptFields returns a copy of doc with every encrypted-looking
// string value decrypted. Values that fail to decrypt keep their
// envelope; the fallback presenter logic then skips them.
func (e *Enricher) decryptFields(ctx context.Context, doc map[string]any, scope types.Scope, deks *dekCache) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		s, ok := v.(string)
		if !ok || !crypto.LooksEncrypted(s) || e.crypt == nil {
			out[k] = v
			continue
		}
		plain, err := e.crypt.DecryptWithDEK(s, func() ([]byte, error) {
			return deks.get(ctx, scope)
		})
		if err != nil {
			log.WithComponent("enricher").Debug().
				Str("field", k).Err(err).Msg("failed to decrypt field")
			out[k] = v
			continue
		}
		out[k] = plain
	}
	return out
}

func (e *Enricher) buildPresenter(ctx context.Context, entityID types.EntityID, fields map[string]any) *types.Presenter {
	if cfg := e.entityConfig(entityID); cfg != nil && cfg.FormatResult != nil {
		if p, err := cfg.FormatResult(ctx, fields); err == nil && !p.IsEmpty() {
			if p.Badge == "" {
				p.Badge = entityID.Label()
			}
			return p
		} else if err != nil {
			log.WithComponent("enricher").Debug().
				Str("entity_id", string(entityID)).Err(err).Msg("formatResult hook failed")
		}
	}
	return FallbackPresenter(entityID, fields)
}

func (e *Enricher) buildNavigation(ctx context.Context, entityID types.EntityID, fields map[string]any) (string, []types.Link) {
	cfg := e.entityConfig(entityID)
	if cfg == nil {
		return "", nil
	}
	var url string
	var links []types.Link
	if cfg.ResolveURL != nil {
		if u, err := cfg.ResolveURL(ctx, fields); err == nil {
			url = u
		}
	}
	if cfg.ResolveLinks != nil {
		if ls, err := cfg.ResolveLinks(ctx, fields); err == nil {
			links = ls
		}
	}
	return url, links
}

func (e *Enricher) entityConfig(entityID types.EntityID) *types.EntityConfig {
	if e.configs == nil {
		return nil
	}
	if cached, ok := e.configCache.Get(string(entityID)); ok {
		cfg, _ := cached.(*types.EntityConfig)
		return cfg
	}
	cfg := e.configs(entityID)
	e.configCache.Set(string(entityID), cfg, gocache.DefaultExpiration)
	return cfg
}

// FallbackPresenter derives display fragments from raw fields when no
// hook produced any: first matching title field, else any short string
// value, else a generic "<Entity Label> <id-prefix>..." title.
func FallbackPresenter(entityID types.EntityID, fields map[string]any) *types.Presenter {
	p := &types.Presenter{Badge: entityID.Label()}

	for _, key := range titleFields {
		if v := plainString(fields, key); v != "" {
			p.Title = v
			break
		}
	}
	if p.Title == "" {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if nonTitleKeys[k] || strings.HasSuffix(k, "_at") {
				continue
			}
			if v := plainString(fields, k); v != "" && len(v) < maxFallbackTitleLen {
				p.Title = v
				break
			}
		}
	}
	if p.Title == "" {
		if id, _ := fields["id"].(string); id != "" {
			short := id
			if len(short) > 8 {
				// The ellipsis marks an actual truncation.
				short = short[:8] + "..."
			}
			p.Title = fmt.Sprintf("%s %s", entityID.Label(), short)
		} else {
			p.Title = entityID.Label()
		}
	}

	var parts []string
	for _, key := range subtitleFields {
		if len(parts) >= maxSubtitleParts {
			break
		}
		if v := plainString(fields, key); v != "" && v != p.Title {
			parts = append(parts, v)
		}
	}
	subtitle := strings.Join(parts, " · ")
	if len(subtitle) > maxSubtitleLen {
		subtitle = subtitle[:maxSubtitleLen]
	}
	p.Subtitle = subtitle
	return p
}

// plainString returns the field value only when it is a non-empty string
// that is not still an encryption envelope
func plainString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	if s == "" || crypto.LooksEncrypted(s) {
		return ""
	}
	return s
}

// dekCache memoizes DEK lookups for the duration of one Enrich call
type dekCache struct {
	keys crypto.KeyProvider
	deks map[string][]byte
}

func newDEKCache(keys crypto.KeyProvider) *dekCache {
	return &dekCache{keys: keys, deks: map[string][]byte{}}
}

func (c *dekCache) get(ctx context.Context, scope types.Scope) ([]byte, error) {
	if c.keys == nil {
		return nil, fmt.Errorf("no key provider configured")
	}
	cacheKey := scope.TenantID + "\x00" + scope.OrganizationID
	if dek, ok := c.deks[cacheKey]; ok {
		return dek, nil
	}
	dek, err := c.keys.DEK(ctx, scope.TenantID, scope.OrganizationID)
	if err != nil {
		return nil, err
	}
	c.deks[cacheKey] = dek
	return dek, nil
}
