/*
Package auth guards the management API with a static admin token.

	validator := auth.NewTokenValidator(cfg.Management.AdminToken)
	router.Use(auth.NewMiddleware(validator, nil).Handle)

Requests must send "Authorization: Bearer <token>". Tokens are compared as
SHA-256 digests in constant time. A failed check answers 401 with the relay
error body and a WWW-Authenticate challenge; a missing token is reported
with the missing_credential code.

SetToken swaps the token at runtime. With no token configured every request
is rejected.
*/
package auth
