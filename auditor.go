package coastline

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// itinerarySchema is the fixed structural contract a candidate document must
// satisfy before any cost accounting happens.
const itinerarySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["trip_title", "days"],
	"properties": {
		"trip_title": {"type": "string", "minLength": 1},
		"days": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["day_number", "activities"],
				"properties": {
					"day_number": {"type": "integer", "minimum": 1},
					"theme": {"type": "string"},
					"city": {"type": "string"},
					"activities": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["type", "title", "estimated_cost"],
							"properties": {
								"type": {"enum": ["flight", "hotel", "food", "activity"]},
								"time_slot": {"type": "string"},
								"title": {"type": "string", "minLength": 1},
								"description": {"type": "string"},
								"location": {
									"type": "object",
									"properties": {
										"name": {"type": "string"},
										"address": {"type": "string"}
									}
								},
								"estimated_cost": {"type": "number", "minimum": 0},
								"currency": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

// FieldError is one field-level structural validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AuditResult is the auditor's output for a structurally valid candidate.
type AuditResult struct {
	Itinerary *Itinerary
	Breakdown CostBreakdown
	Verdict   BudgetVerdict
}

// Auditor deterministically validates candidate itinerary documents and
// recomputes their true cost. It performs no lookups, no estimation, and no
// tool calls: the same input always produces the same output.
type Auditor struct {
	schema *jsonschema.Schema
}

// NewAuditor compiles the itinerary schema.
func NewAuditor() (*Auditor, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(itinerarySchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse itinerary schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("itinerary.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add itinerary schema: %w", err)
	}
	schema, err := compiler.Compile("itinerary.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile itinerary schema: %w", err)
	}
	return &Auditor{schema: schema}, nil
}

// Audit validates a raw candidate document against the structural schema and,
// on success, computes the per-category cost breakdown and budget verdict.
// Structural failures come back as field-level errors, never as a Go error;
// the error return is reserved for malformed schema internals.
func (a *Auditor) Audit(raw string, budgetLimit float64) (*AuditResult, []FieldError) {
	doc, ok := extractJSON(raw)
	if !ok {
		return nil, []FieldError{{Field: "(document)", Message: "no JSON object found in response"}}
	}

	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return nil, []FieldError{{Field: "(document)", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}

	if err := a.schema.Validate(value); err != nil {
		return nil, fieldErrors(err)
	}

	var itinerary Itinerary
	if err := json.Unmarshal([]byte(doc), &itinerary); err != nil {
		return nil, []FieldError{{Field: "(document)", Message: fmt.Sprintf("document does not decode as an itinerary: %v", err)}}
	}

	breakdown := computeBreakdown(&itinerary)
	verdict := VerdictOver
	if breakdown.GrandTotal <= budgetLimit {
		verdict = VerdictUnder
	}
	return &AuditResult{
		Itinerary: &itinerary,
		Breakdown: breakdown,
		Verdict:   verdict,
	}, nil
}

// isParseFailure reports whether the field errors came from a document that
// never parsed as JSON, as opposed to one that parsed but failed the schema.
func isParseFailure(errs []FieldError) bool {
	if len(errs) != 1 || errs[0].Field != "(document)" {
		return false
	}
	return strings.HasPrefix(errs[0].Message, "no JSON object") ||
		strings.HasPrefix(errs[0].Message, "invalid JSON")
}

// computeBreakdown sums declared line-item costs grouped by declared
// category. Purely additive: flights and hotels go to their buckets,
// everything else counts as activities.
func computeBreakdown(it *Itinerary) CostBreakdown {
	var b CostBreakdown
	for _, day := range it.Days {
		for _, item := range day.Items {
			cost := item.EstimatedCost
			switch item.Type {
			case ItemTypeFlight:
				b.FlightsTotal += cost
			case ItemTypeHotel:
				b.HotelsTotal += cost
			default:
				b.ActivitiesTotal += cost
			}
		}
	}
	b.FlightsTotal = round2(b.FlightsTotal)
	b.HotelsTotal = round2(b.HotelsTotal)
	b.ActivitiesTotal = round2(b.ActivitiesTotal)
	b.GrandTotal = round2(b.FlightsTotal + b.HotelsTotal + b.ActivitiesTotal)
	return b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// fieldErrors flattens a jsonschema validation error into field-level
// messages keyed by instance location.
func fieldErrors(err error) []FieldError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Field: "(document)", Message: err.Error()}}
	}
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := "/" + strings.Join(e.InstanceLocation, "/")
			if field == "/" {
				field = "(document)"
			}
			out = append(out, FieldError{Field: field, Message: e.Error()})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

// extractJSON pulls the first top-level JSON object out of a response that
// may be wrapped in prose or markdown fences.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
