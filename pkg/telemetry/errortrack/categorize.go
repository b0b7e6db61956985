package errortrack

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Categories.
const (
	CategoryDatabase       = "database"
	CategoryNetwork        = "network"
	CategoryAuthentication = "authentication"
	CategoryValidation     = "validation"
	CategoryPlatformAPI    = "platform_api"
	CategoryQueue          = "queue"
	CategoryFileUpload     = "file_upload"
	CategoryRateLimiting   = "rate_limiting"
	CategoryApplication    = "application"
	CategoryUnknown        = "unknown"
)

// Severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// User impact levels.
const (
	ImpactHigh   = "high"
	ImpactMedium = "medium"
	ImpactLow    = "low"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Coder is implemented by errors that carry a symbolic code such as
// "ECONNREFUSED" or a SQLSTATE.
type Coder interface {
	Code() string
}

// signal is what the rules inspect. Text fields are lower-cased.
type signal struct {
	err     error
	name    string
	message string
	code    string
	status  int
}

func newSignal(err error, status int) signal {
	s := signal{
		err:     err,
		name:    strings.ToLower(errorName(err)),
		message: strings.ToLower(err.Error()),
		status:  status,
	}
	if s.status == 0 {
		s.status = statusOf(err)
	}
	var c Coder
	if errors.As(err, &c) {
		s.code = strings.ToLower(c.Code())
	}
	return s
}

// text is the combined searchable text of the signal.
func (s signal) text() string {
	return s.name + " " + s.code + " " + s.message
}

func (s signal) contains(fragments ...string) bool {
	text := s.text()
	for _, f := range fragments {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}

type categoryRule struct {
	category string
	match    func(signal) bool
}

// categoryRules are evaluated in order; the first match wins.
var categoryRules = []categoryRule{
	{CategoryDatabase, func(s signal) bool {
		return errors.Is(s.err, sql.ErrConnDone) || errors.Is(s.err, sql.ErrTxDone) ||
			s.contains("database", "sql", "query", "deadlock", "constraint", "pgconn", "sqlite", "postgres", "connection pool")
	}},
	{CategoryNetwork, func(s signal) bool {
		var netErr net.Error
		return errors.As(s.err, &netErr) ||
			errors.Is(s.err, syscall.ECONNREFUSED) || errors.Is(s.err, syscall.ECONNRESET) ||
			s.contains("network", "econnrefused", "econnreset", "etimedout", "enotfound", "connection refused",
				"connection reset", "no such host", "dial tcp", "socket", "dns")
	}},
	{CategoryAuthentication, func(s signal) bool {
		return s.status == http.StatusUnauthorized || s.status == http.StatusForbidden ||
			s.contains("unauthorized", "unauthenticated", "forbidden", "authentication", "permission denied",
				"invalid token", "token expired", "jwt", "credentials")
	}},
	{CategoryValidation, func(s signal) bool {
		return s.status == http.StatusBadRequest || s.status == http.StatusUnprocessableEntity ||
			s.contains("validation", "invalid", "required", "malformed", "must be")
	}},
	{CategoryPlatformAPI, func(s signal) bool {
		return s.status == http.StatusBadGateway ||
			s.contains("platform", "api error", "upstream", "external api", "webhook", "oauth")
	}},
	{CategoryQueue, func(s signal) bool {
		return s.contains("queue", "job ", "worker", "consumer", "broker")
	}},
	{CategoryFileUpload, func(s signal) bool {
		return s.status == http.StatusRequestEntityTooLarge ||
			s.contains("upload", "multipart", "file too large", "file size")
	}},
	{CategoryRateLimiting, func(s signal) bool {
		return s.status == http.StatusTooManyRequests ||
			s.contains("rate limit", "too many requests", "quota")
	}},
	{CategoryApplication, func(s signal) bool {
		return s.status >= http.StatusInternalServerError || !genericErrorNames[s.name]
	}},
}

// genericErrorNames are the error types that say nothing about their origin.
var genericErrorNames = map[string]bool{
	"errors.errorstring": true,
	"fmt.wraperror":      true,
	"fmt.wraperrors":     true,
	"errors.joinerror":   true,
}

// Categorize returns the category of err. status is the HTTP status
// associated with the failure, or 0 to derive it from err.
func Categorize(err error, status int) string {
	if err == nil {
		return CategoryUnknown
	}
	return categorize(newSignal(err, status))
}

func categorize(s signal) string {
	for _, r := range categoryRules {
		if r.match(s) {
			return r.category
		}
	}
	return CategoryUnknown
}

var criticalKeywords = []string{"fatal", "panic", "out of memory", "corrupt", "data loss"}

// severity grades a categorized signal.
func severity(s signal, category string) string {
	switch {
	case s.contains(criticalKeywords...),
		s.status >= http.StatusInternalServerError && (category == CategoryDatabase || s.status == http.StatusServiceUnavailable):
		return SeverityCritical
	case s.status >= http.StatusInternalServerError,
		category == CategoryDatabase, category == CategoryNetwork, category == CategoryAuthentication,
		s.contains("timeout", "unavailable", "refused"):
		return SeverityHigh
	case s.status >= http.StatusBadRequest,
		category == CategoryValidation, category == CategoryRateLimiting, category == CategoryFileUpload,
		category == CategoryPlatformAPI, category == CategoryQueue:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// userImpact estimates how visible a failure is to users.
func userImpact(category, sev string) string {
	switch {
	case sev == SeverityCritical:
		return ImpactHigh
	case sev == SeverityHigh && (category == CategoryDatabase || category == CategoryAuthentication ||
		category == CategoryNetwork || category == CategoryPlatformAPI):
		return ImpactHigh
	case sev == SeverityHigh:
		return ImpactMedium
	case sev == SeverityMedium && (category == CategoryFileUpload || category == CategoryRateLimiting ||
		category == CategoryValidation):
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// defaultIgnoreMessages are message fragments that are never forwarded.
var defaultIgnoreMessages = []string{
	"favicon.ico",
	"robots.txt",
	"/static/",
	".map",
	"request aborted",
	"client disconnected",
	"context canceled",
	"operation was canceled",
	"request timeout",
	"broken pipe",
}

// shouldIgnore reports whether a failure is noise: a 4xx other than 401
// and 403, a cancelled request, or a message on the ignore list.
func shouldIgnore(err error, status int, ignore []string) bool {
	if err == nil {
		return true
	}
	if status == 0 {
		status = statusOf(err)
	}
	if status >= 400 && status < 500 && status != http.StatusUnauthorized && status != http.StatusForbidden {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range ignore {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}
