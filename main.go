package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"claude-gateway/config"
	"claude-gateway/logger"
	"claude-gateway/proxy"
	"claude-gateway/upstream"
)

func main() {
	fmt.Println(GetBuildInfo())

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	log := logger.New()
	log.Info("configuration loaded: upstream=%s, haiku_model=%s, default_adapters=%v",
		cfg.OpenAIBaseURL, cfg.HaikuModel, !cfg.DisableDefaultAdapters)

	client := upstream.NewClient(cfg)
	handler := proxy.NewHandler(cfg, client)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/v1/messages", handler.HandleMessages)
	mux.HandleFunc("/v1/messages/count_tokens", handler.HandleCountTokens)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        cfg.Listen,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streaming responses legitimately run for many
		// minutes and are bounded by the upstream idle timeout instead.
		IdleTimeout: cfg.IdleConnectionTimeout,
	}

	log.Info("listening on %s", cfg.Listen)
	if err := server.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

// handleRoot provides basic information about the gateway.
func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
	"service": "claude-gateway",
	"status": "running",
	"endpoints": [
		"GET /health - Health check",
		"POST /v1/messages - Anthropic-compatible messages endpoint",
		"POST /v1/messages/count_tokens - Token estimate"
	]
}`)
}

// handleHealth provides a simple health check endpoint.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "timestamp": %q}`, time.Now().UTC().Format(time.RFC3339))
}
