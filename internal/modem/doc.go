// Package modem drives a GSM modem over a serial line with AT commands.
//
// The modem is a single shared resource: every exchange holds the Modem mutex,
// and a failed exchange drops the connection so the next call probes the
// candidate ports again.
package modem
