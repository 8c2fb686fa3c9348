package faults

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"
	"strings"
	"syscall"

	"pubpipe/internal/services"
)

// Verdict is the outcome of a single driver classifier.
type Verdict int

const (
	// Unknown means the classifier cannot tell; the next tier decides.
	Unknown Verdict = iota
	Retry
	Permanent
)

func (v Verdict) String() string {
	switch v {
	case Retry:
		return "retry"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// DriverClassifier inspects err using typed information only.
type DriverClassifier func(err error) Verdict

// Classifier implements ShouldRetry over a chain of driver classifiers and a
// message pattern fallback.
type Classifier struct {
	drivers  []DriverClassifier
	patterns []*regexp.Regexp
}

var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`a network-related or instance-specific error occurred while establishing a connection`),
	regexp.MustCompile(`error occurred during the pre-login handshake`),
	regexp.MustCompile(`connection timeout expired\b.*\bpre-login handshake`),
	regexp.MustCompile(`database is locked`),
	regexp.MustCompile(`sqlite_busy`),
	regexp.MustCompile(`connection reset by peer`),
	regexp.MustCompile(`broken pipe`),
	regexp.MustCompile(`i/o timeout`),
}

// New builds a classifier from the given driver classifiers, consulted in order.
func New(drivers ...DriverClassifier) *Classifier {
	return &Classifier{drivers: drivers, patterns: defaultPatterns}
}

var std = New(Markers, Context, Network, SQLite, Postgres)

// Default returns the classifier used by the store and the stage workers.
func Default() *Classifier { return std }

// ShouldRetry reports whether err is transient according to the default classifier.
func ShouldRetry(err error) bool { return std.ShouldRetry(err) }

// ShouldRetry reports whether err is transient.
func (c *Classifier) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	for _, classify := range c.drivers {
		switch classify(err) {
		case Retry:
			return true
		case Permanent:
			return false
		}
	}
	return c.matchesMessage(err.Error())
}

// Classify returns the tier-one verdict without the message fallback.
func (c *Classifier) Classify(err error) Verdict {
	if err == nil {
		return Unknown
	}
	for _, classify := range c.drivers {
		if v := classify(err); v != Unknown {
			return v
		}
	}
	return Unknown
}

func (c *Classifier) matchesMessage(msg string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(msg), " "))
	if normalized == "" {
		return false
	}
	for _, pattern := range c.patterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}
	return false
}

// Markers honours the services error markers.
func Markers(err error) Verdict {
	switch {
	case services.IsPermanent(err):
		return Permanent
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrTimeout):
		return Retry
	default:
		return Unknown
	}
}

// Context treats an expired deadline as transient. Cancellation is left to
// the caller because it usually means shutdown rather than a fault.
func Context(err error) Verdict {
	if errors.Is(err, context.DeadlineExceeded) {
		return Retry
	}
	return Unknown
}

// Network recognises connection-level failures from the standard library.
func Network(err error) Verdict {
	if errors.Is(err, driver.ErrBadConn) {
		return Retry
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE, syscall.ETIMEDOUT} {
		if errors.Is(err, errno) {
			return Retry
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retry
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Retry
	}
	return Unknown
}
