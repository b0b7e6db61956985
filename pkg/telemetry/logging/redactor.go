package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/tollgate/pkg/config"
)

// Redactor redacts PII (Personally Identifiable Information) from log
// fields and error messages.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Common PII pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternAPIKey      = "api_key"
	PatternPassword    = "password"
	PatternEmail       = "email"
	PatternCreditCard  = "credit_card"
	PatternSSN         = "ssn"
	PatternPhone       = "phone"
	PatternIPv6        = "ipv6"
	PatternIPv4        = "ipv4"
)

// defaultPatterns are applied in order. Broader numeric patterns come after
// the more specific ones so a card number is not half-eaten by the phone rule.
var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternAPIKey, `(sk-[a-zA-Z0-9]+|api[-_]?key[-_:=]\s*[a-zA-Z0-9]+)`, "sk-***"},
	{PatternPassword, `(?i)(password|passwd|pwd)[:=]\s*[^\s]+`, "$1: ***"},
	{PatternEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "***@***"},
	{PatternCreditCard, `\b(?:\d[ -]?){12,15}\d\b`, "****-****-****-****"},
	{PatternSSN, `\b\d{3}-\d{2}-\d{4}\b`, "***-**-****"},
	{PatternPhone, `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`, "***-***-****"},
	{PatternIPv6, `\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`, "****:****:****:****:****:****:****:****"},
	{PatternIPv4, `\b(?:\d{1,3}\.){3}\d{1,3}\b`, "*.*.*.*"},
}

// sensitiveKeys mark attribute keys whose values are masked outright.
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"authorization", "cookie",
	"ssn", "credit_card", "creditcard",
	"private_key", "privatekey",
}

// NewRedactor creates a Redactor with the default patterns followed by any
// custom patterns. Custom patterns that fail to compile are skipped.
func NewRedactor(customPatterns []config.RedactPattern) *Redactor {
	r := &Redactor{}

	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r
}

// RedactString redacts PII from a string value. A nil Redactor returns the
// value unchanged.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}

	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr returns a copy of a with its value redacted. Values under
// sensitive keys are masked entirely; other strings and errors are scanned
// for PII. Groups are redacted recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	if r == nil {
		return a
	}

	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		attrs := v.Group()
		out := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, maskValue(v))
	}

	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// maskValue keeps a four character hint of longer string values.
func maskValue(v slog.Value) string {
	if v.Kind() != slog.KindString {
		return "***"
	}
	s := v.String()
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "***"
	}
}
