// Package daemon runs the crash-detection and SOS pipeline: the sensor
// monitor, the alert state machine, the SMS dispatcher, the backend sync
// client, the panic button and the health endpoint, until shut down.
package daemon
