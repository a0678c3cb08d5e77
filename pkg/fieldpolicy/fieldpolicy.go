package fieldpolicy

import (
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Classification partitions a record's fields into the three disjoint
// exposure sets
type Classification struct {
	Searchable map[string]any
	HashOnly   map[string]any
	Excluded   map[string]any
}

// Policy bundles the inputs that drive field classification for one entity
type Policy struct {
	EncryptedFields []types.EncryptedField
	FieldPolicy     *types.FieldPolicy
}

// Resolver returns the classification policy for an entity. Strategies
// hold one so projection decisions stay per-entity without coupling them
// to the config registry.
type Resolver func(entityID types.EntityID) Policy

// ClassifyFields assigns every non-null field to exactly one of
// searchable, hashOnly, or excluded. Precedence, applied per key:
//
//	excluded > hashOnly > encrypted-without-hash > whitelist > searchable
func ClassifyFields(fields map[string]any, policy Policy) Classification {
	c := Classification{
		Searchable: make(map[string]any),
		HashOnly:   make(map[string]any),
		Excluded:   make(map[string]any),
	}

	excluded := toSet(policyExcluded(policy.FieldPolicy))
	hashOnly := toSet(policyHashOnly(policy.FieldPolicy))
	searchable := toSet(policySearchable(policy.FieldPolicy))

	encrypted := make(map[string]types.EncryptedField, len(policy.EncryptedFields))
	for _, ef := range policy.EncryptedFields {
		encrypted[ef.Field] = ef
	}

	for key, value := range fields {
		if value == nil {
			continue
		}
		switch {
		case excluded[key]:
			c.Excluded[key] = value
		case hashOnly[key]:
			c.HashOnly[key] = value
		case hasHashSibling(encrypted, key):
			c.HashOnly[key] = value
		case isEncrypted(encrypted, key):
			c.Excluded[key] = value
		case len(searchable) > 0 && !searchable[key]:
			c.Excluded[key] = value
		default:
			c.Searchable[key] = value
		}
	}
	return c
}

// ExtractSearchableFields returns the fields safe to hand to an external
// full-text engine. Idempotent: re-applying to its own output yields the
// same set.
func ExtractSearchableFields(fields map[string]any, policy Policy) map[string]any {
	return ClassifyFields(fields, policy).Searchable
}

// ExtractHashOnlyFields returns the projection fed to the token strategy
func ExtractHashOnlyFields(fields map[string]any, policy Policy) map[string]any {
	return ClassifyFields(fields, policy).HashOnly
}

func hasHashSibling(encrypted map[string]types.EncryptedField, key string) bool {
	ef, ok := encrypted[key]
	return ok && ef.HashField != ""
}

func isEncrypted(encrypted map[string]types.EncryptedField, key string) bool {
	_, ok := encrypted[key]
	return ok
}

func policyExcluded(p *types.FieldPolicy) []string {
	if p == nil {
		return nil
	}
	return p.Excluded
}

func policyHashOnly(p *types.FieldPolicy) []string {
	if p == nil {
		return nil
	}
	return p.HashOnly
}

func policySearchable(p *types.FieldPolicy) []string {
	if p == nil {
		return nil
	}
	return p.Searchable
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
