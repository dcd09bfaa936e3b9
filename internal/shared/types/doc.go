// Package types defines the message protocol between page clients and the
// proxy: JSON-shaped requests with a correlation id, one response per
// request echoing that id, and unsolicited notifications carrying none.
package types
