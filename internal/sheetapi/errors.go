package sheetapi

import (
	"regexp"
	"strings"
)

// ErrorKind enumerates the sheet API's loosely-structured error
// categories.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorUnknownFieldName
	ErrorInvalidFieldValue
	ErrorTransient
)

// APIError wraps a non-2xx sheet API response's status code and body;
// Classify derives the error kind and any named fields from them.
type APIError struct {
	StatusCode int
	Body       []byte
	err        error
}

func (e *APIError) Error() string { return e.err.Error() }
func (e *APIError) Unwrap() error { return e.err }

// fieldNamePatterns are the fixed set of regexes matching the API's
// error message shapes, used to extract offending field names from
// invalid-value errors.
var fieldNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`Field "([^"]+)" cannot accept the provided value`),
	regexp.MustCompile(`Invalid value for field "([^"]+)"`),
	regexp.MustCompile(`Unknown field name: "([^"]+)"`),
	regexp.MustCompile(`Unknown field name "([^"]+)"`),
}

// Classify inspects a response body to decide the ErrorKind and, for
// invalid-value errors, the list of offending field names.
func Classify(statusCode int, body []byte) (ErrorKind, []string) {
	text := string(body)

	if statusCode == 422 && (strings.Contains(text, "UNKNOWN_FIELD_NAME") || strings.Contains(strings.ToLower(text), "unknown field name")) {
		return ErrorUnknownFieldName, extractFieldNames(text)
	}

	if statusCode >= 500 {
		return ErrorTransient, nil
	}

	if fields := extractFieldNames(text); len(fields) > 0 {
		return ErrorInvalidFieldValue, fields
	}

	return ErrorUnknown, nil
}

func extractFieldNames(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, re := range fieldNamePatterns {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			if len(match) < 2 {
				continue
			}
			name := match[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
