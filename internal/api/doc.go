// Package api implements the HTTP status and control API for radiolink.
//
// This package provides:
//   - Read-only endpoints for gateway health, the peer registry and the
//     peer sighting audit trail
//   - Control endpoints to send data, run node discovery and clear the registry
//   - A WebSocket hub streaming received payloads ("radio.data") and registry
//     changes ("radio.peer") to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// Control endpoints require an HS256 bearer token signed with
// security.jwt.secret. Tokens are minted by the operator with NewToken
// (radiolink -token <subject>); there is no user store.
package api
