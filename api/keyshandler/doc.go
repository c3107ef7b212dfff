/*
Package keyshandler serves the content key API.

Keys are addressed by KID, a 32 character hex string, or by an alias
"^name" that the store resolves to a KID. Several KIDs can be given in
one path segment separated by commas; results keep that order.

The optional kek query parameter carries a 16 byte key encryption key in
hex. When present, keys are wrapped under it on write and unwrapped with
it on read. Without it reads return the wrapped form (ek) and writes must
supply ek themselves.

Errors are returned as JSON:

	{"error":"INVALID_PARAMETERS","message":"invalid parameters: invalid kek"}

with 400 for bad input or a wrong KEK, 404 when none of the requested keys
exist and 500 for storage failures.
*/
package keyshandler
