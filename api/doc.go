/*
Package api holds the HTTP surface of the content key service.

Subpackages:

  - keyshandler: the key API routes over an interfaces.KeyStore
  - clients: a Go client for the key API

HTTPServerConfig in this package is shared by the server in package
httpserver and the command line flags in cmd/flags.
*/
package api
