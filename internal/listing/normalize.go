// Package listing normalizes project listings returned by the upstream and
// provides the client-side paging, filtering and sorting applied to them.
package listing

import (
	"encoding/json"
	"strconv"
)

// Project is an opaque upstream project record. Listings from every endpoint
// are normalized to a common set of keys; unknown keys pass through.
type Project map[string]any

// listKeys are the wrapper keys checked, in order, for the plain listing shape.
var listKeys = []string{"projects", "content", "projectsList"}

// totalPaths are the fields checked, in order, for a server-side total count.
var totalPaths = [][]string{
	{"meta", "total"},
	{"totalElements"},
	{"totalCount"},
	{"total"},
	{"count"},
}

// Normalize extracts the project list and total count from a listing body.
//
// Shape detection, first match wins:
//  1. An array body is unwrapped to its first element (the payload); any
//     other body is the payload itself.
//  2. payload.items present: search-endpoint records, mapped to the common shape.
//  3. payload.projects, payload.content, payload.projectsList, or the raw
//     array body when none of those are present.
//  4. Otherwise the list is empty.
//
// The total is the first present of meta.total, totalElements, totalCount,
// total and count; failing those, the number of items.
func Normalize(body any) (items []Project, total int) {
	arr, isArray := body.([]any)

	var payload map[string]any
	if isArray {
		if len(arr) > 0 {
			payload, _ = arr[0].(map[string]any)
		}
	} else {
		payload, _ = body.(map[string]any)
	}

	switch {
	case payload != nil && payload["items"] != nil:
		raw, _ := payload["items"].([]any)
		items = make([]Project, 0, len(raw))
		for _, r := range raw {
			if m, ok := r.(map[string]any); ok {
				items = append(items, normalizeSearchItem(m))
			}
		}
	default:
		items = plainList(payload, arr, isArray)
	}

	if n, ok := findTotal(payload); ok {
		return items, n
	}
	return items, len(items)
}

func plainList(payload map[string]any, arr []any, isArray bool) []Project {
	for _, key := range listKeys {
		if payload == nil {
			break
		}
		if list, ok := payload[key].([]any); ok {
			return toProjects(list)
		}
	}
	if isArray {
		return toProjects(arr)
	}
	return []Project{}
}

func toProjects(list []any) []Project {
	out := make([]Project, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, Project(m))
		}
	}
	return out
}

func findTotal(payload map[string]any) (int, bool) {
	if payload == nil {
		return 0, false
	}
	for _, path := range totalPaths {
		var cur any = payload
		for _, key := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[key]
		}
		if cur == nil {
			continue
		}
		if n, ok := number(cur); ok {
			return int(n), true
		}
	}
	return 0, false
}

// normalizeSearchItem maps a search-endpoint record onto the common project shape.
func normalizeSearchItem(item map[string]any) Project {
	p := Project{
		"id":             item["projectId"],
		"projectId":      item["projectId"],
		"name":           item["name"],
		"title":          item["name"],
		"description":    item["description"],
		"creationDate":   item["date_posted_facet"],
		"createdAt":      item["date_posted_facet"],
		"expiryDate":     item["expirationDate"],
		"expirationDate": item["expirationDate"],
		"projectDueDate": item["project_due_date"],
		"isHotProject":   truthy(item["isHotProject"]),
		"urgent":         truthy(item["urgent"]),
		"amount_pj":      orZero(item["amount_pj"]),
		"budgetRange":    item["projectBudgetRangeFacet"],
	}

	cats, _ := item["categories"].([]any)
	pc := make([]any, 0, len(cats))
	for _, c := range cats {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name := cm["nameHe"]
		if !truthy(name) {
			name = cm["nameEn"]
		}
		pc = append(pc, map[string]any{
			"id":     cm["catId_facet"],
			"nameHe": cm["nameHe"],
			"nameEn": cm["nameEn"],
			"name":   name,
		})
	}
	p["projectCategories"] = pc
	return p
}

func orZero(v any) any {
	if truthy(v) {
		return v
	}
	return json.Number("0")
}

// truthy mirrors loose truthiness for decoded JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// number converts a decoded JSON number (json.Number or float64) or numeric string.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
