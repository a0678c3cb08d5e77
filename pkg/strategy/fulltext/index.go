package fulltext

import (
	"strings"
)

// IndexName derives the physical per-tenant index name
// "<prefix>_<sanitizedTenantId>". Case is preserved; every character
// outside [A-Za-z0-9_-] becomes "_".
func IndexName(prefix, tenantID string) string {
	return prefix + "_" + sanitizeTenantID(tenantID)
}

func sanitizeTenantID(tenantID string) string {
	var b strings.Builder
	b.Grow(len(tenantID))
	for _, r := range tenantID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// escapeFilterValue backslash-escapes quotes and backslashes so
// interpolated values cannot break out of the filter expression
func escapeFilterValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}

// buildFilter joins organization and entity constraints with AND. An
// organization filter also matches tenant-wide documents (null org).
func buildFilter(organizationID string, entityIDs []string) string {
	var clauses []string

	if organizationID != "" {
		clauses = append(clauses, `(_organizationId = "`+escapeFilterValue(organizationID)+`" OR _organizationId IS NULL)`)
	}
	if len(entityIDs) > 0 {
		quoted := make([]string, len(entityIDs))
		for i, id := range entityIDs {
			quoted[i] = `"` + escapeFilterValue(id) + `"`
		}
		clauses = append(clauses, "_entityId IN ["+strings.Join(quoted, ", ")+"]")
	}
	return strings.Join(clauses, " AND ")
}
