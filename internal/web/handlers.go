package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/justestif/go-spotify-listen-logger/internal/auth"
	"github.com/justestif/go-spotify-listen-logger/internal/registry"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// Connector is the OAuth connect flow the handlers drive.
type Connector interface {
	AuthorizeURL(tenantID string) string
	VerifyState(state string) (string, error)
	Exchange(ctx context.Context, code string) (refreshToken, accountID string, err error)
}

// Syncer is the slice of the sync service the handlers call.
type Syncer interface {
	SyncTenant(ctx context.Context, tenantID string) (int, error)
	InitTenant(ctx context.Context, tenantID, timezone string) error
}

// Handlers contains the HTTP handlers.
type Handlers struct {
	connector Connector
	store     tabular.Store
	reg       *registry.Registry
	syncer    Syncer
	sealKey   []byte
	log       *zap.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(connector Connector, store tabular.Store, reg *registry.Registry, syncer Syncer, sealKey []byte, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		connector: connector,
		store:     store,
		reg:       reg,
		syncer:    syncer,
		sealKey:   sealKey,
		log:       log,
	}
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// Connect starts the OAuth flow for a tenant (GET /connect?sheet=<id>).
// The sheet id doubles as the tenant id and rides through Spotify inside
// the signed state.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("sheet")
	if tenantID == "" {
		http.Error(w, "missing sheet parameter", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, h.connector.AuthorizeURL(tenantID), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow (GET /callback). On success the tenant
// is initialized, its refresh token sealed and stored, and syncing enabled.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, fmt.Sprintf("authorization denied: %s", errMsg), http.StatusBadRequest)
		return
	}

	tenantID, err := h.connector.VerifyState(r.URL.Query().Get("state"))
	if err != nil {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	refreshToken, accountID, err := h.connector.Exchange(r.Context(), code)
	if err != nil {
		h.log.Warn("token exchange failed", zap.String("tenant", tenantID), zap.Error(err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	// Refuse before initializing: a rejected connect must leave the tenant
	// disabled and unregistered.
	if err := auth.VerifyAccountFree(r.Context(), h.reg, tenantID, accountID); err != nil {
		if errors.Is(err, auth.ErrAccountBound) {
			http.Error(w, "this Spotify account is already connected to another sheet", http.StatusConflict)
			return
		}
		h.log.Error("account check failed", zap.String("tenant", tenantID), zap.Error(err))
		http.Error(w, "connect failed", http.StatusInternalServerError)
		return
	}

	if err := h.syncer.InitTenant(r.Context(), tenantID, ""); err != nil {
		h.log.Error("tenant init failed", zap.String("tenant", tenantID), zap.Error(err))
		http.Error(w, "tenant setup failed", http.StatusInternalServerError)
		return
	}

	if err := auth.Finalize(r.Context(), h.store, h.reg, h.sealKey, tenantID, accountID, refreshToken); err != nil {
		if errors.Is(err, auth.ErrAccountBound) {
			http.Error(w, "this Spotify account is already connected to another sheet", http.StatusConflict)
			return
		}
		h.log.Error("connect finalize failed", zap.String("tenant", tenantID), zap.Error(err))
		http.Error(w, "connect failed", http.StatusInternalServerError)
		return
	}

	h.log.Info("tenant connected", zap.String("tenant", tenantID), zap.String("account", accountID))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Connected. Your listening history will start appearing in sheet %s shortly.\n", tenantID)
}

// tenantView is the JSON shape of one registry entry.
type tenantView struct {
	TenantID   string `json:"tenant_id"`
	Enabled    bool   `json:"enabled"`
	AccountID  string `json:"account_id,omitempty"`
	LastSyncAt string `json:"last_sync_at,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// ListTenants returns all registered tenants (GET /tenants).
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reg.List(r.Context())
	if err != nil {
		h.log.Error("listing tenants failed", zap.Error(err))
		http.Error(w, "listing tenants failed", http.StatusInternalServerError)
		return
	}

	views := make([]tenantView, 0, len(entries))
	for _, e := range entries {
		views = append(views, tenantView{
			TenantID:   e.TenantID,
			Enabled:    e.Enabled,
			AccountID:  e.AccountID,
			LastSyncAt: e.LastSyncAt,
			LastError:  e.LastError,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// SyncTenant triggers one tenant's sync cycle (POST /tenants/{tenantID}/sync).
func (h *Handlers) SyncTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	n, err := h.syncer.SyncTenant(r.Context(), tenantID)
	if err != nil {
		h.log.Warn("manual sync failed", zap.String("tenant", tenantID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"appended": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
