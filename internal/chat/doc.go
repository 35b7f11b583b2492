// Package chat drives a single two-party conversation on top of the
// connection manager and the REST client. It tracks the selected peer,
// filters live traffic down to that conversation, and reports messages and
// errors as Events.
package chat
