// Package button turns a GPIO panic-button line into press and release calls.
package button
