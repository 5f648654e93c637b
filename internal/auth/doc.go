// Package auth validates the bearer tokens that guard the management
// endpoints (backend reload, request log). Tokens are HS256 JWTs signed
// with a shared secret; an issuer is checked when one is configured.
package auth
