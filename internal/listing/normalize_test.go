package listing

import (
	"encoding/json"
	"strings"
	"testing"
)

// decode parses JSON the way the session client does, keeping numbers as json.Number.
func decode(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIDs   []string
		wantTotal int
	}{
		{"projects wrapper", `{"projects":[{"id":1,"name":"P"}]}`, []string{"1"}, 1},
		{"content wrapper", `{"content":[{"id":1},{"id":2}],"totalElements":40}`, []string{"1", "2"}, 40},
		{"projectsList wrapper", `{"projectsList":[{"id":"a"}],"totalCount":3}`, []string{"a"}, 3},
		{"raw array", `[{"id":7},{"id":8}]`, []string{"7", "8"}, 2},
		{"projects wins over content", `{"projects":[{"id":1}],"content":[{"id":2}]}`, []string{"1"}, 1},
		{"meta total wins", `{"projects":[{"id":1}],"meta":{"total":9},"total":5}`, []string{"1"}, 9},
		{"count used last", `{"projects":[{"id":1}],"count":4}`, []string{"1"}, 4},
		{"explicit zero total kept", `{"projects":[{"id":1}],"total":0}`, []string{"1"}, 0},
		{"unknown object", `{"foo":"bar"}`, nil, 0},
		{"empty array", `[]`, nil, 0},
		{"null body", `null`, nil, 0},
		{"search shape", `[{"items":[{"projectId":11,"name":"S"}],"total":30}]`, []string{"11"}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total := Normalize(decode(t, tt.body))

			if len(items) != len(tt.wantIDs) {
				t.Fatalf("len(items) = %d, want %d", len(items), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got := items[i].ID(); got != id {
					t.Errorf("items[%d].ID() = %q, want %q", i, got, id)
				}
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
		})
	}
}

func TestNormalize_NilBodyYieldsEmptyList(t *testing.T) {
	items, total := Normalize(nil)
	if items == nil || len(items) != 0 || total != 0 {
		t.Errorf("Normalize(nil) = %v, %d; want empty non-nil list, 0", items, total)
	}
}

func TestNormalize_SearchItemMapping(t *testing.T) {
	body := decode(t, `[{"items":[{
		"projectId": 42,
		"name": "Kitchen",
		"description": "Renovate",
		"date_posted_facet": "2025-01-02T10:00:00Z",
		"expirationDate": "2025-02-01",
		"project_due_date": "2025-03-01",
		"isHotProject": true,
		"projectBudgetRangeFacet": "BUDGET_3",
		"categories": [
			{"catId_facet": 5, "nameHe": "מטבחים", "nameEn": "Kitchens"},
			{"catId_facet": 6, "nameHe": "", "nameEn": "Plumbing"}
		]
	}]}]`)

	items, _ := Normalize(body)
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	p := items[0]

	checks := map[string]any{
		"id":             json.Number("42"),
		"projectId":      json.Number("42"),
		"name":           "Kitchen",
		"title":          "Kitchen",
		"description":    "Renovate",
		"creationDate":   "2025-01-02T10:00:00Z",
		"createdAt":      "2025-01-02T10:00:00Z",
		"expiryDate":     "2025-02-01",
		"expirationDate": "2025-02-01",
		"projectDueDate": "2025-03-01",
		"isHotProject":   true,
		"urgent":         false,
		"amount_pj":      json.Number("0"),
		"budgetRange":    "BUDGET_3",
	}
	for key, want := range checks {
		if got := p[key]; got != want {
			t.Errorf("%s = %#v, want %#v", key, got, want)
		}
	}

	cats, ok := p["projectCategories"].([]any)
	if !ok || len(cats) != 2 {
		t.Fatalf("projectCategories = %#v, want 2 entries", p["projectCategories"])
	}
	first := cats[0].(map[string]any)
	if first["id"] != json.Number("5") || first["name"] != "מטבחים" {
		t.Errorf("projectCategories[0] = %#v", first)
	}
	second := cats[1].(map[string]any)
	if second["name"] != "Plumbing" {
		t.Errorf("projectCategories[1].name = %#v, want fallback to nameEn", second["name"])
	}
}
