package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/printq/printq/pkg/api"
	"github.com/printq/printq/pkg/auth"
	"github.com/printq/printq/pkg/coordinator"
	"github.com/printq/printq/pkg/files"
	"github.com/printq/printq/pkg/logging"
	"github.com/printq/printq/pkg/metrics"
	"github.com/printq/printq/pkg/printer"
	"github.com/printq/printq/pkg/ratelimit"
	"github.com/printq/printq/pkg/service"
	"github.com/printq/printq/pkg/shutdown"
	"github.com/printq/printq/pkg/store"
	printqtls "github.com/printq/printq/pkg/tls"
	"github.com/printq/printq/pkg/tracing"
)

func main() {
	port := flag.String("port", "8080", "API listen port")
	dataDir := flag.String("data-dir", "./data", "Directory for uploads, gcode and thumbnails")
	storeType := flag.String("store", "snapshot", "Store backend: snapshot or sqlite")
	storePath := flag.String("store-path", "./data/queue.json", "Store file path (JSON snapshot or SQLite database)")
	printerURL := flag.String("printer-url", "", "Printer signal endpoint base URL (empty disables monitoring)")
	printerDevice := flag.String("printer-device", "", "Printer device ID on the signal endpoint")
	apiToken := flag.String("api-token", "", "Bearer token required on API requests (empty disables auth)")
	rps := flag.Float64("rate-limit", 50, "Per-client requests per second")
	burst := flag.Int("rate-burst", 100, "Per-client burst size")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file (empty serves plain HTTP)")
	tlsKey := flag.String("tls-key", "", "TLS key file")
	tlsSelfSigned := flag.Bool("tls-self-signed", false, "Generate a self-signed pair when the cert files are missing")
	traceEndpoint := flag.String("trace-endpoint", "", "OTLP HTTP endpoint for traces (empty disables tracing)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Emit logs as JSON")
	flag.Parse()

	logger, err := logging.NewFileLogger("printqd", logging.ParseLevel(*logLevel), *logJSON)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}

	logger.Info("Starting PrintQ queue manager", map[string]interface{}{
		"store": *storeType,
		"path":  *storePath,
	})

	st, err := store.NewStore(store.Config{Type: *storeType, Path: *storePath})
	if err != nil {
		logger.Fatal("Failed to open store", map[string]interface{}{"error": err.Error()})
	}

	fh, err := files.NewHandler(*dataDir)
	if err != nil {
		logger.Fatal("Failed to prepare data directory", map[string]interface{}{"error": err.Error()})
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "printqd",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   *traceEndpoint,
		Enabled:        *traceEndpoint != "",
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}

	shutdownMgr := shutdown.New(30 * time.Second)
	shutdownMgr.Register(shutdown.CloseResource(logger, "log file"))
	shutdownMgr.Register(shutdown.CloseResource(st, "store"))
	shutdownMgr.Register(tracer.Shutdown)

	// The coordinator consults the monitor for blocking prints, so the
	// monitor is wired in before the coordinator when one is configured.
	var coord *coordinator.Coordinator
	if *printerURL != "" && *printerDevice != "" {
		monitor := printer.NewMonitor(printer.NewHTTPSource(*printerURL), *printerDevice, st, nil)
		if err := monitor.Setup(); err != nil {
			logger.Fatal("Failed to set up printer monitor", map[string]interface{}{"error": err.Error()})
		}
		coord = coordinator.New(st, monitor)
		monitor.SetOnScheduleChange(coord.Invalidate)
		monitor.Start()
		shutdownMgr.Register(func(ctx context.Context) error {
			monitor.Stop()
			return nil
		})
		logger.Info("Printer monitor enabled", map[string]interface{}{
			"device":   *printerDevice,
			"endpoint": *printerURL,
		})
	} else {
		coord = coordinator.New(st, nil)
		logger.Info("Printer monitor disabled")
	}
	coord.Start()
	shutdownMgr.Register(func(ctx context.Context) error {
		coord.Stop()
		return nil
	})

	svc := service.New(st, fh, coord)

	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(requestLogger(logger))

	limiter := ratelimit.NewLimiter(*rps, *burst)
	router.Use(limiter.Middleware(ratelimit.IPKeyFunc))
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.CleanupOldLimiters(time.Hour)
			case <-shutdownMgr.Done():
				return
			}
		}
	}()

	router.Use(auth.Middleware(*apiToken))

	api.NewHandler(svc).RegisterRoutes(router)
	router.PathPrefix("/thumbnails/").Handler(
		http.StripPrefix("/thumbnails/", http.FileServer(http.Dir(fh.ThumbnailDir()))))
	router.Handle("/metrics", metrics.NewCollector(st, coord).Handler()).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	shutdownMgr.Register(shutdown.StopHTTPServer(srv, "API"))

	go func() {
		if *tlsCert != "" && *tlsKey != "" {
			if *tlsSelfSigned {
				if err := printqtls.EnsureServerCert(*tlsCert, *tlsKey, "printqd"); err != nil {
					logger.Fatal("Failed to generate TLS certificate", map[string]interface{}{"error": err.Error()})
				}
			}
			tlsConfig, err := printqtls.LoadTLSConfig(*tlsCert, *tlsKey, "", false)
			if err != nil {
				logger.Fatal("Failed to load TLS config", map[string]interface{}{"error": err.Error()})
			}
			srv.TLSConfig = tlsConfig
			logger.Info("Listening with TLS", map[string]interface{}{"port": *port})
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Server error", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		logger.Info("Listening", map[string]interface{}{"port": *port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	shutdownMgr.Wait()
	shutdownMgr.Shutdown()
}

// requestLogger logs each API request at debug level
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("Request handled", map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"duration": time.Since(start).String(),
			})
		})
	}
}
