// Package config loads, validates, and saves the crashguard YAML settings.
//
// Zero values in the file are replaced with defaults by Validate, so a minimal
// file only needs recipients and, optionally, a backend URL.
package config
