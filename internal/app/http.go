package app

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/logger"
)

// printBanner logs startup info once wiring is complete.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	logger.Info("chatsync_started",
		"version", verStr,
		"user", a.cfg.Client.UserID,
		"api", a.cfg.Server.BaseURL,
		"debug_addr", a.addr,
		"cache", a.cache != nil,
	)
}

// router builds the debug listener routes: liveness, readiness, metrics
// and read-only views of the local sync state.
func (a *App) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/state/conversations", a.conversationsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/state/conversations/{id}/messages", a.messagesHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/state/pending", a.pendingHandler).Methods(http.MethodGet)
	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
}

// readyzHandler reports ready once the push channel is connected.
func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.bus.Connected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("{\"status\":\"push disconnected\"}"))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{\"status\":\"ok\",\"version\":\"" + ver + "\"}"))
}

func (a *App) conversationsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"active":        a.eng.ActiveConversation(),
		"conversations": a.eng.Conversations(),
	})
}

func (a *App) messagesHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	msgs, ok := a.eng.Messages(id)
	if !ok {
		http.Error(w, "{\"error\":\"conversation not open\"}", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"conversation": id, "messages": msgs})
}

func (a *App) pendingHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"pending": a.eng.PendingMutations()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("debug_write_failed", "error", err)
	}
}

// startHTTP binds the debug listener in a goroutine and returns a channel
// that will contain any server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{Addr: a.addr, Handler: a.router()}
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}
