// Package httpapi exposes the payroll ledger over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/events"
	"github.com/R3E-Network/payroll_ledger/internal/app/metrics"
	"github.com/R3E-Network/payroll_ledger/internal/app/services/ledger"
	"github.com/R3E-Network/payroll_ledger/internal/middleware"
)

// handler bundles the HTTP endpoints over the ledger manager.
type handler struct {
	manager *ledger.Manager
	stream  *events.StreamHub
}

// NewHandler returns a router exposing the ledger REST API. Authentication
// is layered outside; handlers read the principal from the request context.
// The hub feeds the websocket event stream and may be nil to disable it.
func NewHandler(manager *ledger.Manager, stream *events.StreamHub) http.Handler {
	h := &handler{manager: manager, stream: stream}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	payroll := r.PathPrefix("/payroll").Subrouter()
	payroll.HandleFunc("/schedule", h.schedule).Methods(http.MethodPost)
	payroll.HandleFunc("/execute", h.execute).Methods(http.MethodPost)
	payroll.HandleFunc("/events", h.streamEvents).Methods(http.MethodGet)
	payroll.HandleFunc("/payments", h.payments).Methods(http.MethodGet)
	payroll.HandleFunc("/payments/{index}", h.payment).Methods(http.MethodGet)
	payroll.HandleFunc("/escrow/{asset}", h.escrow).Methods(http.MethodGet)
	payroll.HandleFunc("/routing", h.routing).Methods(http.MethodGet)
	payroll.HandleFunc("/yield/move", h.moveToYield).Methods(http.MethodPost)
	payroll.HandleFunc("/yield/recall", h.recallFromYield).Methods(http.MethodPost)
	payroll.HandleFunc("/emergency-withdraw", h.emergencyWithdraw).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/admins", h.listAdmins).Methods(http.MethodGet)
	admin.HandleFunc("/admins", h.addAdmin).Methods(http.MethodPost)
	admin.HandleFunc("/admins/{principal}", h.removeAdmin).Methods(http.MethodDelete)
	admin.HandleFunc("/pause", h.pause).Methods(http.MethodPost)
	admin.HandleFunc("/unpause", h.unpause).Methods(http.MethodPost)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and forwards every ledger event
// published after the subscription until the client disconnects.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	if h.stream == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("event stream disabled"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, cancel := h.stream.Subscribe()
	defer cancel()

	// Drain inbound frames so close handshakes from the client are seen.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range sub {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func (h *handler) schedule(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var payload struct {
		Recipients  []string `json:"recipients"`
		Assets      []string `json:"assets"`
		Amounts     []string `json:"amounts"`
		ChainTags   []string `json:"chain_tags"`
		NativeValue string   `json:"native_value,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var nativeValue *big.Int
	if payload.NativeValue != "" {
		parsed, ok := new(big.Int).SetString(payload.NativeValue, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("native_value is not a base-10 integer"))
			return
		}
		nativeValue = parsed
	}

	assets := make([]asset.ID, len(payload.Assets))
	for i, a := range payload.Assets {
		assets[i] = asset.ID(a)
	}

	admitted, err := h.manager.ScheduleBatch(r.Context(), caller, ledger.ScheduleRequest{
		Recipients:  payload.Recipients,
		Assets:      assets,
		Amounts:     payload.Amounts,
		ChainTags:   payload.ChainTags,
		NativeValue: nativeValue,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, admitted)
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var payload struct {
		UpTo int `json:"up_to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := h.manager.ExecuteBatch(r.Context(), caller, payload.UpTo)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) payments(w http.ResponseWriter, r *http.Request) {
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := h.manager.Payments(r.Context(), offset, int(limit))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	total, err := h.manager.PaymentCount(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"payments": records,
	})
}

func (h *handler) payment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("index must be a non-negative integer"))
		return
	}

	record, err := h.manager.Payment(r.Context(), index)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) escrow(w http.ResponseWriter, r *http.Request) {
	id := asset.ID(mux.Vars(r)["asset"])
	balance, err := h.manager.FreeBalance(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   string(id),
		"balance": balance.String(),
	})
}

func (h *handler) routing(w http.ResponseWriter, r *http.Request) {
	entries, err := h.manager.RoutingEntries(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) moveToYield(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var payload struct {
		Asset  string `json:"asset"`
		Wallet string `json:"wallet"`
		Amount string `json:"amount"`
		Memo   string `json:"memo,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.manager.MoveToYield(r.Context(), caller, asset.ID(payload.Asset), payload.Wallet, payload.Amount, payload.Memo)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) recallFromYield(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var payload struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
		Memo   string `json:"memo,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.manager.RecallFromYield(r.Context(), caller, asset.ID(payload.Asset), payload.Amount, payload.Memo)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) emergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var payload struct {
		Asset       string `json:"asset"`
		Destination string `json:"destination"`
		Amount      string `json:"amount"`
		Memo        string `json:"memo,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.manager.EmergencyWithdraw(r.Context(), caller, asset.ID(payload.Asset), payload.Destination, payload.Amount, payload.Memo)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) listAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.manager.Admins(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admins": admins})
}

func (h *handler) addAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var payload struct {
		Principal string `json:"principal"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.manager.AddAdmin(r.Context(), caller, payload.Principal); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) removeAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.manager.RemoveAdmin(r.Context(), caller, mux.Vars(r)["principal"]); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.manager.Pause(r.Context(), caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.manager.Unpause(r.Context(), caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal := middleware.Principal(r.Context())
	if principal == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("no authenticated principal"))
		return "", false
	}
	return principal, true
}

// writeLedgerError maps ledger sentinels to HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrPaused), errors.Is(err, ledger.ErrAlreadyExecuted):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrLengthMismatch),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrValueMismatch),
		errors.Is(err, ledger.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientEscrow), errors.Is(err, ledger.ErrTransferFailed):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err)
}

func queryUint(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return value, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
