// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter.
// sentry.Init must already have been called when enabled is true.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends an enhanced error to Sentry with credentials scrubbed
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() || !shouldReport(ee.Category) {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetLevel(levelFor(ee.Category))
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = levelFor(ee.Category)
		event.Exception = []sentry.Exception{{
			Type:  fmt.Sprintf("%s %s", ee.GetComponent(), ee.Category),
			Value: message,
		}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// shouldReport filters out client mistakes and malformed producer input,
// which are expected traffic rather than faults.
func shouldReport(category ErrorCategory) bool {
	switch category {
	case CategoryValidation, CategoryInvalidArgument, CategoryCancellation:
		return false
	default:
		return true
	}
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryStoreUnavailable, CategoryDatabase, CategoryConfiguration:
		return sentry.LevelError
	case CategoryUpstream, CategoryNetwork, CategoryTimeout, CategoryBroadcast:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu     sync.RWMutex
	globalReporter TelemetryReporter
)

// SetTelemetryReporter installs the global telemetry reporter; nil disables reporting
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}
	reporterMu.RLock()
	reporter := globalReporter
	reporterMu.RUnlock()
	if reporter != nil {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex = regexp.MustCompile(`((?:https?|wss?|tcp|ssl|mqtt)://[^?\s]+)\?\S*`)
	userinfoRegex = regexp.MustCompile(`((?:https?|wss?|tcp|ssl|mqtt)://)[^/@\s]+@`)
	dsnPassRegex  = regexp.MustCompile(`(\w+):[^@\s/]+@tcp\(`)
	secretKVRegex = regexp.MustCompile(`(?i)(password|passwd|token|secret|api[_-]?key)[=:]\S+`)
	longHexRegex  = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// scrubMessage removes credentials from broker URLs, DSNs and key=value pairs
func scrubMessage(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = userinfoRegex.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	scrubbed = dsnPassRegex.ReplaceAllString(scrubbed, "$1:[REDACTED]@tcp(")
	scrubbed = secretKVRegex.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	return longHexRegex.ReplaceAllString(scrubbed, "[REDACTED]")
}
