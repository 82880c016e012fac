package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/banshee-data/shootpoints/internal/api"
	"github.com/banshee-data/shootpoints/internal/monitoring"
)

var logf = monitoring.Component("serve")

// newHandler mounts the JSON API, the metrics endpoint and the database
// and serial link debug pages.
func (rt *runtime) newHandler(ctx context.Context, reg *prometheus.Registry) (http.Handler, error) {
	e, err := rt.openEngine(ctx)
	if err != nil {
		return nil, err
	}
	mux := api.NewServer(e, rt.store).ServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	rt.store.AttachAdminRoutes(mux)
	rt.inst.Link().AttachAdminRoutes(mux)
	return api.LoggingMiddleware(mux), nil
}

func (rt *runtime) serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the survey over HTTP until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Listen address (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			rt.metrics = monitoring.NewMetrics(reg)

			h, err := rt.newHandler(c.Context, reg)
			if err != nil {
				return outputError(err)
			}

			addr := rt.cfg.GetListen()
			if c.IsSet("listen") {
				addr = c.String("listen")
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return outputError(err)
			}
			return serve(c.Context, ln, h)
		},
	}
}

// serve runs an HTTP server on ln until ctx is cancelled, then shuts it
// down.
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logf("listening on http://%s", ln.Addr())
		errc <- server.Serve(ln)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server stopped")
	return nil
}
