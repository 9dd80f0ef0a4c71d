package queue

import "strings"

const (
	// Delimiter joins payload fragments in the persisted line.
	Delimiter = " ; "
	separator = ";"
	escaped   = ";;"
)

// Serialize encodes payloads as one line. Every ";" inside a fragment is
// doubled, fragments are joined with " ; ". No payloads encode to "".
//
// A single empty fragment also encodes to "" and parses back as no payloads.
// Enqueue rejects empty fragments with ErrEmptyPayload, so persisted lines
// never hit that case.
func Serialize(payloads []string) string {
	if len(payloads) == 0 {
		return ""
	}
	parts := make([]string, len(payloads))
	for i, p := range payloads {
		parts[i] = strings.ReplaceAll(p, separator, escaped)
	}
	return strings.Join(parts, Delimiter)
}

// Parse is the inverse of Serialize, attaching the given identity fields.
func Parse(raw string, id int64, targetPostID string, parentID int64) PendingAction {
	a := PendingAction{ID: id, TargetPostID: targetPostID, ParentID: parentID, Payloads: []string{}}
	if raw == "" {
		return a
	}
	for _, part := range strings.Split(raw, Delimiter) {
		a.Payloads = append(a.Payloads, strings.ReplaceAll(part, escaped, separator))
	}
	return a
}
