package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes вешает внешний интерфейс ядра под /api/v1.
func RegisterRoutes(r *mux.Router, h *Handler) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/assignments", h.CreateAssignment).Methods(http.MethodPost)
	v1.HandleFunc("/assignments", h.ListAssignments).Methods(http.MethodGet)
	v1.HandleFunc("/assignments/release", h.ReleaseAssignment).Methods(http.MethodPost)

	v1.HandleFunc("/conflicts", h.ScanConflicts).Methods(http.MethodGet)
	v1.HandleFunc("/conflicts/resolve", h.ResolveConflict).Methods(http.MethodPost)
	v1.HandleFunc("/conflicts/auto-resolve", h.AutoResolveConflict).Methods(http.MethodPost)
	v1.HandleFunc("/conflicts/fix-orphaned", h.FixOrphaned).Methods(http.MethodPost)

	v1.HandleFunc("/equipment", h.CreateEquipment).Methods(http.MethodPost)
	v1.HandleFunc("/equipment", h.ListEquipment).Methods(http.MethodGet)
	v1.HandleFunc("/equipment/{id:[0-9]+}", h.GetEquipment).Methods(http.MethodGet)
	v1.HandleFunc("/equipment/{id:[0-9]+}", h.UpdateEquipment).Methods(http.MethodPut)
	v1.HandleFunc("/equipment/{id:[0-9]+}", h.DeleteEquipment).Methods(http.MethodDelete)
	v1.HandleFunc("/equipment/{id:[0-9]+}/status", h.SetEquipmentStatus).Methods(http.MethodPut)
	v1.HandleFunc("/equipment/{id:[0-9]+}/probe", h.ProbeOne).Methods(http.MethodPost)
	v1.HandleFunc("/equipment/{id:[0-9]+}/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	v1.HandleFunc("/probe", h.ProbeAll).Methods(http.MethodPost)

	v1.HandleFunc("/alerts", h.CreateAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id:[0-9]+}/resolve", h.ResolveAlert).Methods(http.MethodPost)

	v1.HandleFunc("/audit", h.ListAudit).Methods(http.MethodGet)
	v1.HandleFunc("/ips", h.ListIPs).Methods(http.MethodGet)
}
