// Package auth implements the gateway's authentication and authorization
// pipeline: API key validation with cache-backed lookups, OAuth JWT
// validation against a remote JWKS, role-based tool policies, and the
// background service-token refresh loop.
package auth
