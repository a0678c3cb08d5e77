package fulltext

import (
	"time"

	"github.com/open-mercato/open-mercato-sub000/pkg/fieldpolicy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Reserved document keys
const (
	keyID             = "_id"
	keyEntityID       = "_entityId"
	keyOrganizationID = "_organizationId"
	keyPresenter      = "_presenter"
	keyURL            = "_url"
	keyLinks          = "_links"
	keyIndexedAt      = "_indexedAt"
)

// prepareDocument projects a record into the full-text document schema.
// Only policy-searchable fields are copied; when redact is set the
// presenter title/subtitle and link labels are replaced with
// placeholders for the enricher to re-materialize at query time.
func prepareDocument(record *types.Record, policy fieldpolicy.Policy, redact bool, now time.Time) Document {
	doc := Document{
		keyID:        record.RecordID,
		keyEntityID:  string(record.EntityID),
		keyIndexedAt: now.Unix(),
	}
	if record.OrganizationID != "" {
		doc[keyOrganizationID] = record.OrganizationID
	} else {
		doc[keyOrganizationID] = nil
	}

	for k, v := range fieldpolicy.ExtractSearchableFields(record.Fields, policy) {
		doc[k] = v
	}

	presenter := record.Presenter
	links := record.Links
	if redact {
		presenter = fieldpolicy.RedactPresenter(presenter)
		links = fieldpolicy.RedactLinks(links)
	}
	if presenter != nil {
		doc[keyPresenter] = presenterMap(presenter)
	}
	if record.URL != "" {
		doc[keyURL] = record.URL
	}
	if len(links) > 0 {
		doc[keyLinks] = linkMaps(links)
	}
	return doc
}

// resultFromDocument maps a driver hit back onto a search result
func resultFromDocument(doc Document, score float64) types.Result {
	result := types.Result{
		EntityID: types.EntityID(stringValue(doc[keyEntityID])),
		RecordID: stringValue(doc[keyID]),
		Score:    score,
	}
	if org := stringValue(doc[keyOrganizationID]); org != "" {
		result.Metadata = map[string]any{"organizationId": org}
	}
	if p, ok := doc[keyPresenter].(map[string]any); ok {
		result.Presenter = &types.Presenter{
			Title:    stringValue(p["title"]),
			Subtitle: stringValue(p["subtitle"]),
			Icon:     stringValue(p["icon"]),
			Badge:    stringValue(p["badge"]),
		}
	}
	result.URL = stringValue(doc[keyURL])
	if raw, ok := doc[keyLinks].([]any); ok {
		for _, entry := range raw {
			if m, ok := entry.(map[string]any); ok {
				result.Links = append(result.Links, types.Link{
					Href:  stringValue(m["href"]),
					Label: stringValue(m["label"]),
					Kind:  types.LinkKind(stringValue(m["kind"])),
				})
			}
		}
	}
	return result
}

func presenterMap(p *types.Presenter) map[string]any {
	return map[string]any{
		"title":    p.Title,
		"subtitle": p.Subtitle,
		"icon":     p.Icon,
		"badge":    p.Badge,
	}
}

func linkMaps(links []types.Link) []any {
	out := make([]any, len(links))
	for i, l := range links {
		out[i] = map[string]any{
			"href":  l.Href,
			"label": l.Label,
			"kind":  string(l.Kind),
		}
	}
	return out
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
