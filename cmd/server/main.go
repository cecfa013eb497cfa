package main

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pricearbiter/internal/arbiter"
	"pricearbiter/internal/config"
	"pricearbiter/internal/fetch"
	"pricearbiter/internal/ledger"
	"pricearbiter/internal/logging"
	"pricearbiter/internal/pricing"
	"pricearbiter/internal/source/ninja"
	"pricearbiter/internal/source/trade"
	"pricearbiter/internal/source/watch"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.Setup(cfg.Logging)

	sources := buildSources(cfg.Sources, log)
	if len(sources) == 0 {
		log.Fatal("no pricing sources enabled")
	}

	var led *ledger.Ledger
	if cfg.Ledger.Enabled {
		store, err := ledger.NewPostgresStore(cfg.Ledger.PostgresDSN)
		if err != nil {
			log.WithError(err).Fatal("ledger store")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.EnsureSchema(ctx); err != nil {
			cancel()
			log.WithError(err).Fatal("ledger schema")
		}
		cancel()
		led = ledger.New(store, ledger.Config{
			QueueSize:     cfg.Ledger.QueueSize,
			BatchSize:     cfg.Ledger.BatchSize,
			FlushInterval: time.Duration(cfg.Ledger.FlushIntervalSec) * time.Second,
		})
		defer led.Close()
	}

	opts := []arbiter.Option{
		arbiter.WithThreshold(cfg.Resolver.DivergenceThreshold),
		arbiter.WithTimeout(time.Duration(cfg.Resolver.LookupTimeoutSec) * time.Second),
	}
	if cfg.Resolver.PrimarySource != "" {
		opts = append(opts, arbiter.WithPrimary(cfg.Resolver.PrimarySource))
	}
	if led != nil {
		opts = append(opts, arbiter.WithRecorder(led))
	}
	engine := arbiter.New(opts...)
	for _, s := range sources {
		engine.Register(s)
		log.WithField("source", s.ID()).Info("source registered")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/price", func(w http.ResponseWriter, r *http.Request) {
		handlePrice(w, r, engine)
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(w, r, led)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+5) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildSources(cfg config.Sources, log *logrus.Logger) []pricing.Source {
	var out []pricing.Source
	if cfg.Ninja.Enabled {
		out = append(out, ninja.New(newClient("ninja", cfg.Ninja)))
	}
	if cfg.Watch.Enabled {
		out = append(out, watch.New(newClient("watch", cfg.Watch)))
	}
	if cfg.Trade.Enabled {
		c := cfg.Trade
		client := newClient("trade", c)
		out = append(out, trade.New(client))
		if c.APIKey == "" {
			log.Warn("trade source enabled without TRADE_API_KEY; anonymous rate limits apply")
		}
	}
	return out
}

func newClient(name string, sc config.SourceConfig) *fetch.Client {
	header := http.Header{}
	if sc.APIKey != "" {
		header.Set("Authorization", "Bearer "+sc.APIKey)
	}
	return fetch.New(fetch.Config{
		Name:              name,
		BaseURL:           strings.TrimRight(sc.Endpoint, "/"),
		RequestsPerSecond: sc.RequestsPerSecond,
		CacheTTL:          time.Duration(sc.CacheTTLSec) * time.Second,
		MaxCacheEntries:   sc.CacheMaxEntries,
		MaxRetries:        sc.MaxRetries,
		Header:            header,
	})
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports it.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.WithField("panic", rec).Error("handler panic")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
