package token

import "strings"

// Document field names of the auxiliary token structures.
const (
	FieldReviewerTokens = "reviewerTokens"
	FieldReviewTokens   = "reviewTokens"
	FieldApprovalTokens = "approvalTokens"
)

// Index holds the report-level structures older documents used to look up
// reviewer tokens: a reviewerTokens array and reviewTokens/approvalTokens
// maps. Entries are raw JSON values (strings or objects).
type Index struct {
	ReviewerTokens []any
	ReviewTokens   map[string]any
	ApprovalTokens map[string]any

	hasReviewerTokens bool
	// deleted records maps that must be removed from the document.
	deleted map[string]bool
}

// IndexFromDocument extracts the auxiliary structures from a raw document.
func IndexFromDocument(doc map[string]any) Index {
	var idx Index
	if list, ok := doc[FieldReviewerTokens].([]any); ok {
		idx.ReviewerTokens = list
		idx.hasReviewerTokens = true
	}
	if m, ok := doc[FieldReviewTokens].(map[string]any); ok {
		idx.ReviewTokens = m
	}
	if m, ok := doc[FieldApprovalTokens].(map[string]any); ok {
		idx.ApprovalTokens = m
	}
	return idx
}

// Purge removes value from every structure. String entries equal to value
// are dropped; object entries have a matching token nulled and matching
// tokens/links entries removed. A map left empty is scheduled for deletion.
func (idx *Index) Purge(value string) {
	value = Normalize(value)
	if value == "" {
		return
	}

	if idx.hasReviewerTokens {
		out := make([]any, 0, len(idx.ReviewerTokens))
		for _, entry := range idx.ReviewerTokens {
			switch e := entry.(type) {
			case string:
				if strings.TrimSpace(e) == value {
					continue
				}
				out = append(out, e)
			case map[string]any:
				out = append(out, purgeObject(e, value, true))
			case nil:
			default:
				out = append(out, e)
			}
		}
		idx.ReviewerTokens = out
	}

	idx.ReviewTokens = idx.purgeMap(FieldReviewTokens, idx.ReviewTokens, value)
	idx.ApprovalTokens = idx.purgeMap(FieldApprovalTokens, idx.ApprovalTokens, value)
}

// PurgeAll purges every value in values.
func (idx *Index) PurgeAll(values []string) {
	for _, v := range values {
		idx.Purge(v)
	}
}

// Clear empties the array and deletes both maps.
func (idx *Index) Clear() {
	if idx.hasReviewerTokens && len(idx.ReviewerTokens) > 0 {
		idx.ReviewerTokens = []any{}
	}
	if idx.ReviewTokens != nil {
		idx.markDeleted(FieldReviewTokens)
		idx.ReviewTokens = nil
	}
	if idx.ApprovalTokens != nil {
		idx.markDeleted(FieldApprovalTokens)
		idx.ApprovalTokens = nil
	}
}

// Apply writes the structures back onto doc.
func (idx *Index) Apply(doc map[string]any) {
	if idx.hasReviewerTokens {
		doc[FieldReviewerTokens] = idx.ReviewerTokens
	}
	applyMap(doc, FieldReviewTokens, idx.ReviewTokens, idx.deleted[FieldReviewTokens])
	applyMap(doc, FieldApprovalTokens, idx.ApprovalTokens, idx.deleted[FieldApprovalTokens])
}

func applyMap(doc map[string]any, field string, m map[string]any, deleted bool) {
	switch {
	case deleted:
		delete(doc, field)
	case m != nil:
		doc[field] = m
	}
}

func (idx *Index) purgeMap(field string, m map[string]any, value string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, entry := range m {
		switch e := entry.(type) {
		case string:
			if strings.TrimSpace(e) != value {
				out[key] = e
			}
		case map[string]any:
			out[key] = purgeObject(e, value, false)
		}
	}
	if len(out) == 0 {
		idx.markDeleted(field)
		return nil
	}
	return out
}

func (idx *Index) markDeleted(field string) {
	if idx.deleted == nil {
		idx.deleted = make(map[string]bool)
	}
	idx.deleted[field] = true
}

// purgeObject returns a copy of obj with value removed from its token,
// tokens and (when withLinks) links fields.
func purgeObject(obj map[string]any, value string, withLinks bool) map[string]any {
	clone := make(map[string]any, len(obj))
	for k, v := range obj {
		clone[k] = v
	}
	if s, ok := clone["token"].(string); ok && s == value {
		clone["token"] = nil
	}
	if list, ok := clone["tokens"].([]any); ok {
		kept := make([]any, 0, len(list))
		for _, item := range list {
			s, isString := item.(string)
			if withLinks && !isString {
				continue
			}
			if isString && strings.TrimSpace(s) == value {
				continue
			}
			kept = append(kept, item)
		}
		clone["tokens"] = kept
	}
	if !withLinks {
		return clone
	}
	if links, ok := clone["links"].([]any); ok {
		kept := make([]any, 0, len(links))
		for _, link := range links {
			switch l := link.(type) {
			case string:
				if strings.TrimSpace(l) != value {
					kept = append(kept, l)
				}
			case map[string]any:
				lc := make(map[string]any, len(l))
				for k, v := range l {
					lc[k] = v
				}
				if s, ok := lc["token"].(string); ok && s == value {
					lc["token"] = nil
				}
				kept = append(kept, lc)
			case nil:
			default:
				kept = append(kept, l)
			}
		}
		clone["links"] = kept
	}
	return clone
}

// Clone returns a deep copy of the index.
func (idx *Index) Clone() Index {
	out := Index{hasReviewerTokens: idx.hasReviewerTokens}
	if idx.ReviewerTokens != nil {
		out.ReviewerTokens = deepCopy(idx.ReviewerTokens).([]any)
	}
	if idx.ReviewTokens != nil {
		out.ReviewTokens = deepCopy(idx.ReviewTokens).(map[string]any)
	}
	if idx.ApprovalTokens != nil {
		out.ApprovalTokens = deepCopy(idx.ApprovalTokens).(map[string]any)
	}
	for field := range idx.deleted {
		out.markDeleted(field)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
