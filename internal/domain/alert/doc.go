// Package alert contains the value types shared by the detection-to-dispatch pipeline.
//
// State and Source are small string enums whose values double as wire formats
// (Redis hashes, backend payloads). Event is the identity-less description of an
// active alert; Clone helpers keep callers from sharing the Location pointer.
package alert
