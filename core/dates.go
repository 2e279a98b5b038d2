package core

import (
	"regexp"
	"time"
)

// ISO date pattern matches: 2024-01-15, 2024-01-15T10:30:00, 2024-01-15T10:30:00.000Z, etc.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2}(\.\d{1,9})?(Z|[+-]\d{2}:?\d{2})?)?$`)

// IsISODateString checks if a string looks like an ISO 8601 date.
func IsISODateString(value string) bool {
	return isoDatePattern.MatchString(value)
}

// ParseISODate parses an ISO 8601 date string to time.Time.
func ParseISODate(value string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &time.ParseError{Value: value, Message: "not a valid ISO 8601 date"}
}

// FormatQueryDate renders a time for use inside a query atom. Midnight UTC
// values are treated as plain dates.
func FormatQueryDate(t time.Time) string {
	if t.Location() == time.UTC && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

// ConvertDates replaces ISO date strings in a document with time.Time values,
// descending into nested maps and slices. The document is modified in place.
func ConvertDates(doc Document) Document {
	for key, value := range doc {
		doc[key] = convertDateValue(value)
	}
	return doc
}

func convertDateValue(value any) any {
	switch v := value.(type) {
	case string:
		if IsISODateString(v) {
			if t, err := ParseISODate(v); err == nil {
				return t
			}
		}
		return v

	case map[string]any:
		for key, item := range v {
			v[key] = convertDateValue(item)
		}
		return v

	case []any:
		for i, item := range v {
			v[i] = convertDateValue(item)
		}
		return v

	default:
		return v
	}
}
