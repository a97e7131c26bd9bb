package api

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostinger/nd6relay/internal/logger"
	"github.com/hostinger/nd6relay/internal/node"
)

type API struct {
	NM *node.Manager
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type NeighborView struct {
	IP           string  `json:"ip"`
	HardwareAddr string  `json:"hwAddr"`
	State        string  `json:"state"`
	IsRouter     bool    `json:"is_router"`
	ReachableFor float64 `json:"reachable_for_seconds"`
	NSCount      int     `json:"ns_count"`
}

type TableView struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Router registers every endpoint, including /metrics for the manager's
// registry.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/neighbors", a.ListNeighborsHandler)
	r.HandleFunc("/tables", a.ListTablesHandler)
	r.HandleFunc("/nexthop/{addr}", a.NextHopHandler)
	r.Handle("/metrics", promhttp.HandlerFor(a.NM.Registry(), promhttp.HandlerOpts{}))
	return r
}

func (a *API) ListNeighborsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
		return
	}

	table := r.URL.Query().Get("table")
	if table == "" {
		table = node.NeighborCacheTable
	}

	neighbors, err := a.NM.ListNeighbors(table)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "table_not_found", err.Error())
		return
	}

	output := make([]NeighborView, 0, len(neighbors))
	for _, n := range neighbors {
		output = append(output, NeighborView{
			IP:           n.IP.String(),
			HardwareAddr: n.LinkAddr.String(),
			State:        n.State.String(),
			IsRouter:     n.IsRouter,
			ReachableFor: n.ReachableFor.Seconds(),
			NSCount:      n.NSCount,
		})
	}

	writeJSONResponse(w, map[string]interface{}{
		"table":     table,
		"neighbors": output,
		"count":     len(output),
		"timestamp": time.Now(),
	})
}

func (a *API) ListTablesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
		return
	}

	var tables []TableView
	for name, count := range a.NM.TableCounts() {
		tables = append(tables, TableView{Name: name, Count: count})
	}

	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Name < tables[j].Name
	})

	writeJSONResponse(w, map[string]interface{}{
		"role":      a.NM.Role().String(),
		"tables":    tables,
		"count":     len(tables),
		"timestamp": time.Now(),
	})
}

func (a *API) NextHopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
		return
	}

	dst, err := netip.ParseAddr(mux.Vars(r)["addr"])
	if err != nil || !dst.Is6() {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_address", "Destination must be an IPv6 address")
		return
	}

	hop, ok := a.NM.NextHop(dst)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no_route", "No next hop for "+dst.String())
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"destination": dst.String(),
		"next_hop":    hop.String(),
		"timestamp":   time.Now(),
	})
}

func writeErrorResponse(w http.ResponseWriter, code int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errType,
		Message: message,
		Code:    code,
	}); err != nil {
		logger.Error("Failed to encode error response: %v", err)
	}
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
