package faults_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"pubpipe/internal/faults"
	"pubpipe/internal/services"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string { return e.msg }
func (e codedError) Code() int     { return e.code }

func TestShouldRetryMatchesTransientPatterns(t *testing.T) {
	messages := []string{
		"A network-related or instance-specific error occurred while establishing a connection to SQL Server. The server was not found or was not accessible.",
		"A connection was successfully established with the server, but then an error occurred during the pre-login handshake.",
		"Connection Timeout Expired.  The timeout period elapsed while attempting to consume the pre-login handshake acknowledgement.",
	}
	for _, msg := range messages {
		for _, variant := range []string{msg, "  \n\t" + msg + "\r\n  "} {
			if !faults.ShouldRetry(errors.New(variant)) {
				t.Fatalf("expected retry for %q", variant)
			}
		}
	}
}

func TestShouldRetryToleratesWhitespaceInsidePattern(t *testing.T) {
	err := errors.New("error   occurred\nduring the\tpre-login handshake")
	if !faults.ShouldRetry(err) {
		t.Fatal("expected whitespace-normalised match")
	}
}

func TestShouldRetryRejectsUnrelatedMessages(t *testing.T) {
	for _, msg := range []string{"", "duplicate key value violates unique constraint", "division by zero", "connection timeout expired"} {
		if faults.ShouldRetry(errors.New(msg)) {
			t.Fatalf("expected no retry for %q", msg)
		}
	}
	if faults.ShouldRetry(nil) {
		t.Fatal("expected no retry for nil")
	}
}

func TestShouldRetryHonoursDriverCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlite busy without pattern", codedError{code: 5, msg: "unrelated text"}, true},
		{"sqlite busy extended", codedError{code: 5 | (2 << 8), msg: "busy recovery"}, true},
		{"sqlite constraint wins over message", codedError{code: 19, msg: "database is locked"}, false},
		{"zero code falls back to message", codedError{code: 0, msg: "error occurred during the pre-login handshake"}, true},
		{"zero code no pattern", codedError{code: 0, msg: "something else"}, false},
		{"postgres connection class", &pgconn.PgError{Code: "08006", Message: "connection failure"}, true},
		{"postgres serialization", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40001"}), true},
		{"postgres unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
		{"deadline", fmt.Errorf("stage: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"transient marker", services.Wrap(services.ErrTransient, "datasets", "publish", "503", nil), true},
		{"validation marker", services.Wrap(services.ErrValidation, "datasets", "publish", "A network-related or instance-specific error occurred while establishing a connection", nil), false},
		{"net timeout", &net.DNSError{Err: "lookup", Name: "db", IsTimeout: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := faults.ShouldRetry(tt.err); got != tt.want {
				t.Fatalf("ShouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyReportsDriverVerdictOnly(t *testing.T) {
	c := faults.Default()
	if v := c.Classify(errors.New("error occurred during the pre-login handshake")); v != faults.Unknown {
		t.Fatalf("expected unknown tier-one verdict, got %s", v)
	}
	if v := c.Classify(codedError{code: 6, msg: "locked"}); v != faults.Retry {
		t.Fatalf("expected retry verdict, got %s", v)
	}
}

func TestCustomDriverChain(t *testing.T) {
	always := func(error) faults.Verdict { return faults.Permanent }
	c := faults.New(always)
	if c.ShouldRetry(errors.New("error occurred during the pre-login handshake")) {
		t.Fatal("expected driver verdict to win over message tier")
	}
	if !faults.New().ShouldRetry(errors.New("broken pipe")) {
		t.Fatal("expected message tier with empty driver chain")
	}
}
