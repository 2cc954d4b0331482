package core

import "sort"

// HeaderField is a single header name and value.
type HeaderField struct {
	Name  string
	Value string
}

// SortedHeaders returns the custom headers of msg sorted by name, so that
// projections built from them are deterministic.
func SortedHeaders(msg *Message) []HeaderField {
	fields := make([]HeaderField, 0, len(msg.headers))
	for name, value := range msg.headers {
		fields = append(fields, HeaderField{Name: name, Value: value})
	}
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Name < fields[j].Name
	})
	return fields
}

// PriorityHeaders returns the conventional headers for p. Normal priority has none.
func PriorityHeaders(p Priority) []HeaderField {
	switch p {
	case PriorityHigh:
		return []HeaderField{
			{Name: "X-Priority", Value: "1"},
			{Name: "Importance", Value: "high"},
		}
	case PriorityLow:
		return []HeaderField{
			{Name: "X-Priority", Value: "5"},
			{Name: "Importance", Value: "low"},
		}
	default:
		return nil
	}
}
