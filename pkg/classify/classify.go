// Package classify maps atomic change records to a severity tier and a
// breaking/non-breaking flag using a fixed, ordered rule table.
package classify

import (
	"fmt"
	"strings"

	"github.com/apiwatch/apiwatch/pkg/diff"
)

// Severity is the impact tier of a change. The ordering is total:
// CRITICAL > HIGH > MEDIUM > LOW.
type Severity int

const (
	Low Severity = iota + 1
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// ParseSeverity is the inverse of String.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// ClassifiedRecord is a change record with its assigned severity and
// breaking flag.
type ClassifiedRecord struct {
	diff.ChangeRecord
	Severity Severity `json:"severity"`
	Breaking bool     `json:"breaking"`
}

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// Classify assigns a severity and breaking flag to one change record.
// The rules are ordered; the first match wins, and every record matches
// exactly one tier.
func Classify(rec diff.ChangeRecord) (Severity, bool) {
	switch rec.Kind {
	case diff.Removed:
		// Removing an operation (or a whole URL path, which removes every
		// operation under it) breaks all existing callers.
		if isOperationPath(rec.Segments) || isURLPath(rec.Segments) {
			return Critical, true
		}
		// Removing a parameter that was required, or a member of a
		// required-field set, invalidates existing request/response shapes.
		if isParameterNode(rec.Segments) && strings.Contains(rec.OldValue, `"required":true`) {
			return Critical, true
		}
		if isRequiredSetMember(rec.Segments) {
			return Critical, true
		}
		if isSuccessResponseCode(rec.Segments) {
			return High, true
		}
		return Low, false
	case diff.Modified:
		if lastSegment(rec.Segments) == "type" {
			return High, true
		}
		// A whole property or parameter changing shape (object schema became
		// a boolean schema, string became a list, ...) is a type change even
		// though no "type" leaf moved.
		if (isPropertyNode(rec.Segments) || isParameterNode(rec.Segments)) &&
			jsonShape(rec.OldValue) != jsonShape(rec.NewValue) {
			return High, true
		}
		// A required flag flipping to true tightens an existing contract.
		if lastSegment(rec.Segments) == "required" && rec.NewValue == "true" {
			return High, true
		}
		return Low, false
	case diff.Added:
		if isParameterNode(rec.Segments) && strings.Contains(rec.NewValue, `"required":true`) {
			return High, true
		}
		if isRequiredSetMember(rec.Segments) {
			return High, true
		}
		if isOperationPath(rec.Segments) || isURLPath(rec.Segments) ||
			isParameterNode(rec.Segments) || isPropertyNode(rec.Segments) ||
			isResponseCode(rec.Segments) {
			return Medium, false
		}
		return Low, false
	}
	return Low, false
}

// ClassifyAll classifies every record, preserving input order.
func ClassifyAll(records []diff.ChangeRecord) []ClassifiedRecord {
	out := make([]ClassifiedRecord, 0, len(records))
	for _, rec := range records {
		sev, breaking := Classify(rec)
		out = append(out, ClassifiedRecord{ChangeRecord: rec, Severity: sev, Breaking: breaking})
	}
	return out
}

// Aggregate returns the maximum severity and the OR of the breaking flags.
// An empty slice yields (0, false); callers treat that as "no changes".
func Aggregate(records []ClassifiedRecord) (Severity, bool) {
	var max Severity
	var breaking bool
	for _, r := range records {
		if r.Severity > max {
			max = r.Severity
		}
		breaking = breaking || r.Breaking
	}
	return max, breaking
}

// paths./users.get → operation node
func isOperationPath(segs []string) bool {
	return len(segs) == 3 && segs[0] == "paths" && httpMethods[segs[2]]
}

// paths./users → URL path node
func isURLPath(segs []string) bool {
	return len(segs) == 2 && segs[0] == "paths"
}

// ....parameters.<identity> → one whole parameter
func isParameterNode(segs []string) bool {
	return len(segs) >= 2 && segs[len(segs)-2] == "parameters"
}

// ....properties.<name> → one schema field
func isPropertyNode(segs []string) bool {
	return len(segs) >= 2 && segs[len(segs)-2] == "properties"
}

// ....required.<member> → member of a required-field set
func isRequiredSetMember(segs []string) bool {
	return len(segs) >= 2 && segs[len(segs)-2] == "required"
}

func isResponseCode(segs []string) bool {
	n := len(segs)
	return n >= 2 && segs[n-2] == "responses" && len(segs[n-1]) == 3
}

func isSuccessResponseCode(segs []string) bool {
	return isResponseCode(segs) && strings.HasPrefix(segs[len(segs)-1], "2")
}

// jsonShape reduces a canonical literal to its JSON shape class: object,
// array, string, bool, null or number.
func jsonShape(v string) byte {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	switch v[0] {
	case '{', '[', '"':
		return v[0]
	case 't', 'f':
		return 'b'
	case 'n':
		return 'n'
	default:
		return '0'
	}
}

func lastSegment(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
