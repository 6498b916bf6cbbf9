// Package modemcheck scans for the GSM modem and optionally sends a test SMS.
package modemcheck
