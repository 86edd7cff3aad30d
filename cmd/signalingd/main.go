package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"net/http"
	"os"

	"golang.org/x/crypto/acme/autocert"

	"github.com/Hien110/ecare-signaling/internal/config"
	"github.com/Hien110/ecare-signaling/internal/hub"
	"github.com/Hien110/ecare-signaling/internal/server"
	"github.com/Hien110/ecare-signaling/internal/turn"
)

func main() {
	noTURN := flag.Bool("no-turn", false, "Disable the TURN media bootstrap")
	flag.Parse()

	cfg := config.LoadServer()
	logger := newLogger(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		logger.Warn("JWT_SECRET not set, generated an ephemeral secret; sessions will not survive a restart")
	}

	db, err := server.InitDatabase(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	var turnServer *turn.Server
	if !*noTURN {
		turnServer, err = turn.Initialize(cfg.TURNPort, cfg.TURNRealm, logger)
		if err != nil {
			logger.Error("failed to initialize TURN server", "error", err)
			os.Exit(1)
		}
		defer turnServer.Close()
	}

	if os.Getenv("GIN_MODE") == "" {
		// gin defaults to debug; keep the JSON log clean.
		os.Setenv("GIN_MODE", "release")
	}

	h := server.New(cfg, db, hub.New(), server.NewRegistry(cfg.RingTTL), turnServer, logger)
	router := h.Router(slogGinLogger(logger))

	if cfg.Domain != "" {
		logger.Info("serving HTTPS via autocert", "domain", cfg.Domain)
		if err := http.Serve(autocert.NewListener(cfg.Domain), router); err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	addr := ":" + cfg.HTTPPort
	logger.Info("serving HTTP", "addr", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
