// Package status queries a running crashguard daemon over its gRPC health
// endpoint and prints the availability of each component.
package status
