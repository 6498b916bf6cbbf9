// Package messaging connects crashguard to the vehicle's local Redis bus.
//
// Alert status, live g-force readings and the backend fare rate are published
// as hashes with change notifications on the matching channel. The GPS
// service's hash is read back as the current location.
package messaging
