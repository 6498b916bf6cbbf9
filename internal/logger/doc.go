// Package logger wraps zap to offer:
//   - a global sugared logger with a console encoder and an atomic level,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing,
//   - leveled helpers taking a context (Infof, WarnKV, ErrorKV, ...).
//
// Every long-running component receives a context and logs through it, so the
// component name and its key-value pairs follow each message.
package logger
