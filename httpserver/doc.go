/*
Package httpserver runs the HTTP listener of the content key service.

A Server mounts any number of RouteRegistrar values (the key API in
practice) next to its own operational endpoints:

  - GET /livez   - liveness check
  - GET /readyz  - readiness check, false while draining or when the
    configured ReadinessCheck fails
  - GET /drain   - mark the server as not ready
  - GET /undrain - mark the server as ready again
  - /debug/pprof - when EnablePprof is set

Every request passes through the access log and the request metrics
middleware. Metrics are served by a separate listener on MetricsAddr.

# Example Usage

	srv, err := httpserver.New(cfg, keyshandler.NewHandler(store, logger))
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
