// Package common holds helpers shared by several services.
//
// It provides a gRPC health client wrapper with call timeouts and a guard that
// keeps a second daemon from claiming the modem and the sensor bus.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
