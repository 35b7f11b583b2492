// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one websocket channel to the chat server
//   - Exposes a one-shot Readiness that settles on the server's connected frame
//   - Forwards message and error frames to the presentation layer in arrival order
//   - Reconnects after abnormal closures with capped exponential backoff
//   - Gives up after a bounded number of attempts and reports it once
package connection
