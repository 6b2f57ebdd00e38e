package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker considers a service healthy when a TCP dial to Address
// succeeds.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker returns a TCPChecker with a 5s default timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

// Check performs the TCP health check.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("connection failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer conn.Close()

	return Result{Healthy: true, Message: fmt.Sprintf("TCP connection to %s successful", t.Address), CheckedAt: start, Duration: time.Since(start)}
}

// Type returns CheckTypeTCP.
func (t *TCPChecker) Type() CheckType { return CheckTypeTCP }
