// Package api provides the chat server's REST client.
//
// REST endpoints (base /api/1):
//   - POST /auth/login, /auth/register, /auth/logout
//   - GET /users/{query}
//   - GET /messages/{peerId}
//
// The session cookie set on login is kept in the client's cookie jar, which
// the websocket dialer shares so the upgrade request is authenticated.
package api
