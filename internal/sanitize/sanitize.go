// Package sanitize implements the regulatory text gate applied to every
// localized field before it is persisted or bundled. Sanitization is a total
// function over strings: it never fails and it is idempotent, so it can run
// at import time, save time and bundle-build time with identical results.
package sanitize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MaxTextRunes bounds every sanitized string.
const MaxTextRunes = 600

// claimTerm is a regulated-claim stem plus the verb-inflection suffixes that
// must be removed together with it. An empty suffix list removes the bare stem.
type claimTerm struct {
	stem     string
	suffixes []string
}

var claimTerms = []claimTerm{
	{stem: "がん"},
	{stem: "癌"},
	{stem: "治", suffixes: []string{"る", "り", "ります", "りました", "し", "します", "した", "す", "せる", "った"}},
	{stem: "効", suffixes: []string{"く", "き", "きます", "いた"}},
	{stem: "糖尿病"},
	{stem: "痩せ", suffixes: []string{"る", "ます", "た"}},
}

// English claims carry their own inflections and word boundaries.
var claimPatterns = []string{
	`(?i)\bcur(?:e|es|ed|ing)\b`,
	`(?i)\bheal(?:s|ed|ing)?\b`,
	`(?i)\bcancer\b`,
	`(?i)\bdiabetes\b`,
}

var claimExpressions = compileClaims()

func compileClaims() []*regexp.Regexp {
	expressions := make([]*regexp.Regexp, 0, len(claimTerms)+len(claimPatterns))
	for _, term := range claimTerms {
		pattern := regexp.QuoteMeta(term.stem)
		if len(term.suffixes) > 0 {
			quoted := make([]string, 0, len(term.suffixes))
			for _, suffix := range term.suffixes {
				quoted = append(quoted, regexp.QuoteMeta(suffix))
			}
			pattern += "(?:" + strings.Join(quoted, "|") + ")"
		}
		expressions = append(expressions, regexp.MustCompile(pattern))
	}
	for _, pattern := range claimPatterns {
		expressions = append(expressions, regexp.MustCompile(pattern))
	}
	return expressions
}

// Sanitize normalizes the input to NFC, removes regulated-claim terms and
// their inflections, collapses whitespace runs and truncates to MaxTextRunes.
// The remove/collapse/truncate pipeline repeats until the string is stable:
// removal can splice fragments into a new banned term, and truncation can cut
// a harmless word down to one, so a single pass is not a fixed point. Each
// pass either shortens the string or leaves canonical whitespace for the next
// pass to confirm, so the loop terminates.
func Sanitize(text string) string {
	cleaned := norm.NFC.String(text)
	for {
		next := removeClaims(cleaned)
		next = strings.Join(strings.Fields(next), " ")
		next = truncateRunes(next, MaxTextRunes)
		next = strings.TrimSpace(next)
		if next == cleaned {
			return next
		}
		cleaned = next
	}
}

// SanitizeLocalized applies Sanitize to every value of a language-keyed
// mapping. Every requested language is present in the output; languages
// missing from the input map to the empty string, never to an absent key.
func SanitizeLocalized(values map[string]string, languages []string) map[string]string {
	sanitized := make(map[string]string, len(languages)+len(values))
	for _, language := range languages {
		sanitized[language] = Sanitize(values[language])
	}
	for language, value := range values {
		if _, ok := sanitized[language]; !ok {
			sanitized[language] = Sanitize(value)
		}
	}
	return sanitized
}

// removeClaims strips one round of denylisted terms; Sanitize loops it to a
// fixed point.
func removeClaims(text string) string {
	cleaned := text
	for _, expression := range claimExpressions {
		cleaned = expression.ReplaceAllString(cleaned, "")
	}
	return cleaned
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
