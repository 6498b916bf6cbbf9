// Package health exposes crashguard component availability over the standard
// gRPC health checking protocol.
//
// Each component is a named health service whose status is refreshed from a
// probe on an interval. The empty service name reports the daemon itself.
package health
