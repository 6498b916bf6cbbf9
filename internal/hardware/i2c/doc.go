// Package i2c talks to devices on a Linux i2c-dev bus with SMBus-style
// single-byte register reads and writes.
package i2c
