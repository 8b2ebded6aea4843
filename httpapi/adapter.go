// Package httpapi exposes the controller's REST surface, mapping each route
// to exactly one RPC call against the mediator (through a remote-broker
// RPC Engine) and translating the outcome to an HTTP response.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rustyeddy/sprinkler"
	"github.com/rustyeddy/sprinkler/rpc"
)

// mediatorDeviceID is the synthetic device id the /devices route addresses;
// the registry listing is answered by the mediator itself, not a real
// device.
const mediatorDeviceID = "mediator"

// Adapter is the controller's HTTP handler. It is stateless beyond the
// Engine it wraps; every route is a pure translation.
type Adapter struct {
	Engine *rpc.Engine
}

// NewAdapter returns an Adapter issuing calls through engine.
func NewAdapter(engine *rpc.Engine) *Adapter {
	return &Adapter{Engine: engine}
}

// Routes registers the controller's route table on mux.
func (a *Adapter) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", a.handleRoot)
	mux.HandleFunc("POST /pump/{deviceId}/run/{seconds}", a.handlePumpRun)
	mux.HandleFunc("GET /bucket/{deviceId}/status", a.handleBucketStatus)
	mux.HandleFunc("GET /wifi/{deviceId}/status", a.handleWifiStatus)
	mux.HandleFunc("GET /devices", a.handleDevices)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /version", a.handleVersion)
}

func (a *Adapter) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handlePumpRun(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")
	seconds, err := strconv.Atoi(r.PathValue("seconds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("seconds must be an integer"))
		return
	}

	result, err := a.Engine.Call(r.Context(), deviceID, "pump/run", map[string]any{"duration": seconds})
	a.respond(w, deviceID, result, err)
}

func (a *Adapter) handleBucketStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")
	result, err := a.Engine.Call(r.Context(), deviceID, "bucket/get", map[string]any{})
	a.respond(w, deviceID, result, err)
}

func (a *Adapter) handleWifiStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")
	result, err := a.Engine.Call(r.Context(), deviceID, "wifi/get", map[string]any{})
	a.respond(w, deviceID, result, err)
}

func (a *Adapter) handleDevices(w http.ResponseWriter, r *http.Request) {
	result, err := a.Engine.Call(r.Context(), mediatorDeviceID, "devices/get", map[string]any{})
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": result})
}

func (a *Adapter) handleStats(w http.ResponseWriter, r *http.Request) {
	a.Engine.Stats.ServeHTTP(w, r)
}

func (a *Adapter) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(sprinkler.VersionJSON())
}

// respond maps a (result, err) pair from Engine.Call to the {device,result}
// success shape or the appropriate failure status.
func (a *Adapter) respond(w http.ResponseWriter, deviceID string, result any, err error) {
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": deviceID, "result": result})
}

func (a *Adapter) respondError(w http.ResponseWriter, err error) {
	var timeoutErr *rpc.TimeoutError
	if errors.As(err, &timeoutErr) {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	writeError(w, http.StatusBadGateway, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Detail string `json:"detail"`
	}{Detail: err.Error()})
}
