package errors

import (
	"fmt"
	"time"
)

type ResolutionFailed struct {
	Host     string
	Attempts int
	Last     error
}

func (e *ResolutionFailed) Error() string {
	return fmt.Sprintf("Failed to resolve host '%s' after %d attempts: %v", e.Host, e.Attempts, e.Last)
}

func (e *ResolutionFailed) Unwrap() error {
	return e.Last
}

type NoMoreEndpoints struct {
	Tried int
}

func (e *NoMoreEndpoints) Error() string {
	return fmt.Sprintf("No more endpoints to try (attempted %d)", e.Tried)
}

type BufferFull struct {
	Tier     string
	Capacity int
}

func (e *BufferFull) Error() string {
	return fmt.Sprintf("Outbound buffer '%s' is full (capacity=%d)", e.Tier, e.Capacity)
}

type MailboxFull struct {
	Capacity int
}

func (e *MailboxFull) Error() string {
	return fmt.Sprintf("Command mailbox is full (capacity=%d)", e.Capacity)
}

type MalformedLine struct {
	Reason string
}

func (e *MalformedLine) Error() string {
	return fmt.Sprintf("Malformed line: %s", e.Reason)
}

type LineTooLong struct {
	Limit int
}

func (e *LineTooLong) Error() string {
	return fmt.Sprintf("Line exceeded maximum length of %d bytes", e.Limit)
}

type ConnectionClosed struct{}

func (e *ConnectionClosed) Error() string {
	return "Connection closed by remote end (zero bytes received)"
}

type IdleTimeout struct {
	Limit time.Duration
}

func (e *IdleTimeout) Error() string {
	return fmt.Sprintf("No data received within inactivity ceiling of %v", e.Limit)
}

type HandlerInit struct {
	Name string
	Err  error
}

func (e *HandlerInit) Error() string {
	return fmt.Sprintf("Handler '%s' failed to initialize: %v", e.Name, e.Err)
}

func (e *HandlerInit) Unwrap() error {
	return e.Err
}
