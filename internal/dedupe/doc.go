// Package dedupe recognizes a repeated request within a time window so a
// client retry does not record the same message twice.
package dedupe
