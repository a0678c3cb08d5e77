package fieldpolicy

import (
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Generic link labels used when the real labels must not reach the
// external full-text engine
const (
	redactedPrimaryLabel = "Open"
	redactedOtherLabel   = "View"
)

// RedactPresenter strips sensitive display fragments before they are sent
// to the full-text engine. Titles and subtitles become empty placeholders
// and link labels are replaced with generic strings; the enricher
// re-materializes the real values at query time.
func RedactPresenter(p *types.Presenter) *types.Presenter {
	if p == nil {
		return nil
	}
	return &types.Presenter{
		Icon:  p.Icon,
		Badge: p.Badge,
	}
}

// RedactLinks replaces every link label with a generic string while
// preserving hrefs and ordering
func RedactLinks(links []types.Link) []types.Link {
	if len(links) == 0 {
		return links
	}
	out := make([]types.Link, len(links))
	for i, l := range links {
		label := redactedOtherLabel
		if l.Kind == types.LinkKindPrimary {
			label = redactedPrimaryLabel
		}
		out[i] = types.Link{Href: l.Href, Label: label, Kind: l.Kind}
	}
	return out
}
