/*
Package clients provides a Go client for the content key API.

	c := clients.NewKeysClient("http://127.0.0.1:8080")
	record, created, err := c.CreateKey(ctx, interfaces.KeyFields{KID: "^trailer"}, kek)

Error responses from the server are returned as *APIError, which also
unwraps to the matching interfaces error so callers can use errors.Is.
*/
package clients
