// Package devserver is an in-memory chat server for local development and
// integration tests.
//
// Routes (base /api/1):
//   - POST /auth/register, /auth/login, /auth/logout
//   - GET /users/{query}: a single user for an exact name, else a list, 404 if none
//   - GET /messages/{peerID}: the caller's conversation with peerID, 404 if empty
//   - GET /ws: websocket; sends connected{user_id}, routes {receiver_id,text}
//     to the receiver and echoes it to the sender, replies error{error} otherwise
//
// Everything is lost on restart.
package devserver
