package aspect

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// datePattern matches FHIR date primitives: YYYY, YYYY-MM or YYYY-MM-DD.
var datePattern = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?$`)

// genderCodes are the administrative-gender codes defined by FHIR.
var genderCodes = map[string]struct{}{
	"male":    {},
	"female":  {},
	"other":   {},
	"unknown": {},
}

// dateTimeLayouts are the accepted layouts for dateTime/instant values,
// tried in order.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
	"2006-01",
	"2006",
}

// parseDateTime parses a FHIR date or dateTime string at any of its
// allowed precisions. Returns false if no layout matches.
func parseDateTime(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// isValidDate reports whether s is a well-formed FHIR date or dateTime.
func isValidDate(s string) bool {
	if datePattern.MatchString(s) {
		_, ok := parseDateTime(s)
		return ok
	}
	_, ok := parseDateTime(s)
	return ok
}

// isAbsoluteURI reports whether s parses as a URI with a scheme.
// urn: values count as absolute.
func isAbsoluteURI(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "urn:") {
		return len(s) > len("urn:")
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "")
}

// stringField returns m[key] when it is a string.
func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// mapField returns m[key] when it is an object.
func mapField(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	obj, ok := m[key].(map[string]any)
	return obj, ok
}

// fieldPresent reports whether a field exists and is non-empty.
// Empty strings, empty arrays and nil values do not count as present.
func fieldPresent(m map[string]any, key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
