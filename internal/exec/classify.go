package exec

import (
	"regexp"
	"strings"
)

// ErrorKind is the classification of a driver failure, used to pick a
// repair strategy.
type ErrorKind string

const (
	KindColumnNotFound ErrorKind = "column_not_found"
	KindAmbiguousColumn ErrorKind = "ambiguous_column"
	KindTimeout         ErrorKind = "timeout"
	KindOpaque          ErrorKind = "opaque"
)

// Classification is the result of classifying a driver error message.
type Classification struct {
	Kind        ErrorKind
	Identifiers []string
}

var (
	invalidIdentifierRe = regexp.MustCompile(`(?i)invalid identifier '([^']+)'`)
	columnNotFoundRe     = regexp.MustCompile(`(?i)column\s+([A-Za-z0-9_."]+)\s+not found`)
	quotedIdentRe        = regexp.MustCompile(`"([^"]+)"`)
)

// Classify inspects a driver error message and assigns it a kind, capturing
// any identifiers the message names.
func Classify(message string) Classification {
	if matches := invalidIdentifierRe.FindAllStringSubmatch(message, -1); len(matches) > 0 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m[1])
		}
		return Classification{Kind: KindColumnNotFound, Identifiers: ids}
	}
	if m := columnNotFoundRe.FindStringSubmatch(message); m != nil {
		return Classification{Kind: KindColumnNotFound, Identifiers: []string{m[1]}}
	}

	lower := strings.ToLower(message)
	if strings.Contains(lower, "ambiguous") && strings.Contains(lower, "column") {
		ids := make([]string, 0)
		for _, m := range quotedIdentRe.FindAllStringSubmatch(message, -1) {
			ids = append(ids, m[1])
		}
		return Classification{Kind: KindAmbiguousColumn, Identifiers: ids}
	}

	if strings.Contains(lower, "timeout") || strings.Contains(message, "Statement timeout") {
		return Classification{Kind: KindTimeout}
	}

	return Classification{Kind: KindOpaque}
}
