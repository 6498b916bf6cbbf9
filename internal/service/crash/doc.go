// Package crash runs the accelerometer poll loop and turns magnitude spikes into
// debounced crash notifications.
package crash
