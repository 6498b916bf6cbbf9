// Package sensorcheck prints live accelerometer readings so installers can
// verify the sensor mounting and tune the crash threshold.
package sensorcheck
