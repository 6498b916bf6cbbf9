// Package dispatch turns activated alerts into SMS messages and delivers them
// to every configured recipient through the GSM modem.
package dispatch
