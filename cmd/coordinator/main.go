package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Hien110/ecare-signaling/internal/call"
	"github.com/Hien110/ecare-signaling/internal/config"
	"github.com/Hien110/ecare-signaling/internal/connection"
	"github.com/Hien110/ecare-signaling/internal/dedup"
	"github.com/Hien110/ecare-signaling/internal/dispatch"
	"github.com/Hien110/ecare-signaling/internal/ledger"
	"github.com/Hien110/ecare-signaling/internal/models"
	"github.com/Hien110/ecare-signaling/internal/notify"
	"github.com/Hien110/ecare-signaling/internal/session"
)

const sessionTokenKey = "session_token"

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	store, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open coordinator store", "error", err)
		os.Exit(1)
	}

	tokens := session.NewJWTSource()
	if token, err := store.Get(sessionTokenKey); err == nil && token != "" {
		tokens.Set(token)
	}

	conn := connection.NewManager(cfg.ServerURL, tokens, logger, cfg.ReconnectBaseDelay, cfg.ReconnectMaxAttempts)

	actions := ledger.NewLedger(store)
	suppressor := dedup.NewSuppressor(cfg.DedupRetention, store, logger)
	machine := call.NewMachine(conn, &logMedia{logger: logger}, cfg.RingTimeout, logger)
	presenter := notify.NewPresenter(&logNotifier{logger: logger}, conn, actions, logger)
	probe := dispatch.NewSocketProbe(conn, conn, 3*time.Second, logger)

	dispatcher := dispatch.NewDispatcher(
		machine, presenter, suppressor, actions, conn,
		&alwaysReadyNav{logger: logger}, probe,
		cfg.ReplayPollInterval, cfg.ReplayMaxAttempts, logger,
	)
	conn.SetSink(dispatcher)

	machine.SetListener(func(c models.Call) {
		logger.Info("call status", "call_id", c.ID, "status", c.Status, "reason", c.Reason)
	})
	dispatcher.SetAlertListener(func(a models.AlertEvent) {
		logger.Info("alert", "alert_id", a.ID, "requester", a.Requester.Name)
	})
	dispatcher.SetNoticeFunc(func(msg string) {
		logger.Info("notice", "message", msg)
	})

	conn.Subscribe(connection.EventReconnectExhausted, func(_ json.RawMessage) {
		logger.Error("reconnect attempts exhausted; re-login required")
		machine.TransportLost()
	})

	if err := conn.Connect(); err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			logger.Error("no valid session credential; log in first")
		} else {
			logger.Error("initial connect failed", "error", err)
		}
		os.Exit(1)
	}

	// The daemon has no OS lifecycle; it behaves like a foregrounded
	// app from the moment the socket is up, which also drains any
	// actions left over from a previous run.
	dispatcher.SetForeground()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	machine.End()
	conn.Disconnect()
	logger.Info("coordinator stopped")
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", "coordinator")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logMedia is the daemon's stand-in for the media collaborator; a real
// host injects its WebRTC engine here.
type logMedia struct {
	logger *slog.Logger
}

func (m *logMedia) Start(callID string) { m.logger.Info("media session start", "call_id", callID) }
func (m *logMedia) Stop(callID string)  { m.logger.Info("media session stop", "call_id", callID) }

// logNotifier prints notifications instead of rendering OS alerts.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) Show(category notify.Category, key string, notif notify.Notification) {
	n.logger.Info("notification", "category", category, "key", key, "title", notif.Title, "body", notif.Body)
}

func (n *logNotifier) Dismiss(category notify.Category, key string) {
	n.logger.Info("notification dismissed", "category", category, "key", key)
}

// alwaysReadyNav logs navigation requests; the daemon has no screens.
type alwaysReadyNav struct {
	logger *slog.Logger
}

func (n *alwaysReadyNav) Ready() bool { return true }

func (n *alwaysReadyNav) NavigateTo(screen string, params map[string]string) {
	n.logger.Info("navigate", "screen", screen, "params", params)
}
