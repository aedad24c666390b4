package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwatch/apiwatch/pkg/canonical"
	"github.com/apiwatch/apiwatch/pkg/diff"
)

func rec(kind diff.Kind, oldVal, newVal string, segs ...string) diff.ChangeRecord {
	r := diff.ChangeRecord{Kind: kind, OldValue: oldVal, NewValue: newVal, Segments: segs}
	for i, s := range segs {
		if i > 0 {
			r.Path += "."
		}
		r.Path += s
	}
	return r
}

func TestRemovedOperationIsCritical(t *testing.T) {
	sev, breaking := Classify(rec(diff.Removed, `{}`, "", "paths", "/users", "get"))
	assert.Equal(t, Critical, sev)
	assert.True(t, breaking)
}

func TestRemovedURLPathIsCritical(t *testing.T) {
	sev, breaking := Classify(rec(diff.Removed, `{}`, "", "paths", "/users"))
	assert.Equal(t, Critical, sev)
	assert.True(t, breaking)
}

func TestRemovedRequiredParameterIsCritical(t *testing.T) {
	old := `{"in":"query","name":"id","required":true,"schema":{"type":"string"}}`
	sev, breaking := Classify(rec(diff.Removed, old, "",
		"paths", "/users", "get", "parameters", "id(query)"))
	assert.Equal(t, Critical, sev)
	assert.True(t, breaking)
}

func TestRemovedRequiredFieldIsCritical(t *testing.T) {
	sev, breaking := Classify(rec(diff.Removed, `"name"`, "",
		"components", "schemas", "Pet", "required", "name"))
	assert.Equal(t, Critical, sev)
	assert.True(t, breaking)
}

func TestRemovedSuccessResponseCodeIsHigh(t *testing.T) {
	sev, breaking := Classify(rec(diff.Removed, `{"description":"ok"}`, "",
		"paths", "/users", "get", "responses", "201"))
	assert.Equal(t, High, sev)
	assert.True(t, breaking)
}

func TestRemovedErrorResponseCodeIsLow(t *testing.T) {
	sev, breaking := Classify(rec(diff.Removed, `{"description":"missing"}`, "",
		"paths", "/users", "get", "responses", "404"))
	assert.Equal(t, Low, sev)
	assert.False(t, breaking)
}

func TestTypeChangeIsHighBreaking(t *testing.T) {
	sev, breaking := Classify(rec(diff.Modified, `"string"`, `"integer"`,
		"components", "schemas", "Pet", "properties", "id", "type"))
	assert.Equal(t, High, sev)
	assert.True(t, breaking)
}

func TestPropertyShapeChangeIsHighBreaking(t *testing.T) {
	// Object schema replaced by a boolean schema: one modified record at the
	// property node, no "type" leaf involved.
	sev, breaking := Classify(rec(diff.Modified, `{"type":"string"}`, `true`,
		"components", "schemas", "Pet", "properties", "id"))
	assert.Equal(t, High, sev)
	assert.True(t, breaking)
}

func TestParameterShapeChangeIsHighBreaking(t *testing.T) {
	sev, breaking := Classify(rec(diff.Modified, `{"in":"query","name":"id"}`, `"$ref-placeholder"`,
		"paths", "/users", "get", "parameters", "id(query)"))
	assert.Equal(t, High, sev)
	assert.True(t, breaking)
}

func TestAddedRequiredParameterIsHighBreaking(t *testing.T) {
	newVal := `{"in":"query","name":"tenant","required":true}`
	sev, breaking := Classify(rec(diff.Added, "", newVal,
		"paths", "/users", "get", "parameters", "tenant(query)"))
	assert.Equal(t, High, sev)
	assert.True(t, breaking)
}

func TestAddedOptionalParameterIsMedium(t *testing.T) {
	newVal := `{"in":"query","name":"sort","required":false}`
	sev, breaking := Classify(rec(diff.Added, "", newVal,
		"paths", "/users", "get", "parameters", "sort(query)"))
	assert.Equal(t, Medium, sev)
	assert.False(t, breaking)
}

func TestAddedOperationIsMedium(t *testing.T) {
	sev, breaking := Classify(rec(diff.Added, "", `{}`, "paths", "/users", "post"))
	assert.Equal(t, Medium, sev)
	assert.False(t, breaking)
}

func TestAddedResponseFieldIsMedium(t *testing.T) {
	sev, breaking := Classify(rec(diff.Added, "", `{"type":"string"}`,
		"components", "schemas", "Pet", "properties", "nickname"))
	assert.Equal(t, Medium, sev)
	assert.False(t, breaking)
}

func TestDescriptionChangeIsLow(t *testing.T) {
	sev, breaking := Classify(rec(diff.Modified, `"old text"`, `"new text"`,
		"paths", "/users", "get", "description"))
	assert.Equal(t, Low, sev)
	assert.False(t, breaking)
}

// Removing a required parameter must never classify below a description
// edit on the same parameter.
func TestSeverityMonotonicity(t *testing.T) {
	removal, _ := Classify(rec(diff.Removed,
		`{"in":"query","name":"id","required":true}`, "",
		"paths", "/users", "get", "parameters", "id(query)"))
	edit, _ := Classify(rec(diff.Modified, `"a"`, `"b"`,
		"paths", "/users", "get", "parameters", "id(query)", "description"))
	assert.GreaterOrEqual(t, int(removal), int(edit))
}

// Every record produced by the diff engine maps to exactly one tier.
func TestClassificationIsTotal(t *testing.T) {
	a, err := canonical.Parse([]byte(`{
  "openapi": "3.0.0",
  "info": {"title": "svc", "version": "1"},
  "paths": {
    "/users": {
      "get": {
        "parameters": [{"name": "id", "in": "query", "required": true}],
        "responses": {"200": {"description": "ok"}, "404": {"description": "no"}}
      }
    }
  }
}`))
	require.NoError(t, err)
	b, err := canonical.Parse([]byte(`{
  "openapi": "3.1.0",
  "info": {"title": "svc2", "version": "2"},
  "paths": {
    "/pets": {
      "post": {"responses": {"201": {"description": "created"}}}
    }
  }
}`))
	require.NoError(t, err)

	for _, r := range ClassifyAll(diff.Diff(a.Root, b.Root)) {
		assert.Contains(t, []Severity{Low, Medium, High, Critical}, r.Severity, "path %s", r.Path)
	}
}

func TestAggregate(t *testing.T) {
	records := []ClassifiedRecord{
		{Severity: Low, Breaking: false},
		{Severity: Critical, Breaking: true},
		{Severity: Medium, Breaking: false},
	}
	sev, breaking := Aggregate(records)
	assert.Equal(t, Critical, sev)
	assert.True(t, breaking)

	sev, breaking = Aggregate(nil)
	assert.Equal(t, Severity(0), sev)
	assert.False(t, breaking)
}

func TestSeverityRoundTrip(t *testing.T) {
	for _, sev := range []Severity{Low, Medium, High, Critical} {
		parsed, err := ParseSeverity(sev.String())
		require.NoError(t, err)
		assert.Equal(t, sev, parsed)
	}
	_, err := ParseSeverity("bogus")
	assert.Error(t, err)
}
