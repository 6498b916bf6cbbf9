// Package backend synchronises the vehicle with the fleet backend: the fare
// rate is polled on an interval and activated alerts are pushed as SOS reports.
// Both directions are best effort; failures are logged and never retried.
package backend
