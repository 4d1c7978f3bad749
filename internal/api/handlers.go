package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"meshipam/internal/alerts"
	"meshipam/internal/conflict"
	"meshipam/internal/ledger"
	"meshipam/internal/models"
	"meshipam/internal/prober"
	"meshipam/internal/registry"
	"meshipam/internal/repo"
)

// Handler — внешний REST-интерфейс ядра. UI/дашборды ходят только сюда.
type Handler struct {
	ledger   *ledger.Service
	detector *conflict.Detector
	registry *registry.Service
	prober   *prober.Prober
	alerts   *alerts.Engine
	ips      *repo.IPStore
	audits   *repo.AuditStore
}

func NewHandler(l *ledger.Service, d *conflict.Detector, r *registry.Service,
	p *prober.Prober, a *alerts.Engine, ips *repo.IPStore, audits *repo.AuditStore) *Handler {
	return &Handler{ledger: l, detector: d, registry: r, prober: p, alerts: a, ips: ips, audits: audits}
}

// writeError — единое отображение доменных ошибок на HTTP.
func writeError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var ce *models.ConflictError
	switch {
	case errors.As(err, &ve):
		models.WriteProblem(w, http.StatusBadRequest, "Validation Failed", ve.Error(), nil)
	case errors.As(err, &ce):
		models.WriteProblem(w, http.StatusConflict, "Address Conflict", ce.Error(), map[string]any{
			"address":        ce.Address,
			"assignment_id":  ce.AssignmentID,
			"equipment_id":   ce.EquipmentID,
			"equipment_name": ce.EquipmentName,
			"location":       ce.Location,
			"assigned_at":    ce.AssignedAt,
		})
	case errors.Is(err, models.ErrNotFound), errors.Is(err, repo.ErrAlertNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, registry.ErrDeleteVerification):
		models.WriteProblem(w, http.StatusInternalServerError, "Delete Verification Failed", err.Error(), nil)
	default:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
	}
}

func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return 0, &models.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return uint(id), nil
}

/* ───── журнал распределения ───── */

// POST /api/v1/assignments
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address     string `json:"address"`
		EquipmentID uint   `json:"equipment_id"`
		ActorID     string `json:"actor_id"`
		Notes       string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	a, err := h.ledger.Assign(r.Context(), ledger.AssignInput{
		Address:     body.Address,
		EquipmentID: body.EquipmentID,
		ActorID:     body.ActorID,
		Notes:       body.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, a)
}

// POST /api/v1/assignments/release
func (h *Handler) ReleaseAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssignmentID uint   `json:"assignment_id"`
		IPAddressID  uint   `json:"ip_address_id"`
		EquipmentID  uint   `json:"equipment_id"`
		Address      string `json:"address"`
		ActorID      string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	res, err := h.ledger.Release(r.Context(), ledger.ReleaseSelector{
		AssignmentID: body.AssignmentID,
		IPAddressID:  body.IPAddressID,
		EquipmentID:  body.EquipmentID,
		Address:      body.Address,
		ActorID:      body.ActorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, res)
}

/* ───── конфликты ───── */

// GET /api/v1/conflicts
func (h *Handler) ScanConflicts(w http.ResponseWriter, r *http.Request) {
	rep, err := h.detector.Scan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, rep)
}

// POST /api/v1/conflicts/resolve
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address          string `json:"address"`
		KeepAssignmentID uint   `json:"keep_assignment_id"`
		ActorID          string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if err := h.detector.Resolve(r.Context(), body.Address, body.KeepAssignmentID, body.ActorID); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"kept_assignment": body.KeepAssignmentID})
}

// POST /api/v1/conflicts/auto-resolve
func (h *Handler) AutoResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	kept, err := h.detector.AutoResolve(r.Context(), body.Address, body.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"kept_assignment": kept})
}

// POST /api/v1/conflicts/fix-orphaned
func (h *Handler) FixOrphaned(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if err := h.detector.FixOrphaned(r.Context(), body.Address, body.ActorID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ───── оборудование ───── */

// POST /api/v1/equipment
func (h *Handler) CreateEquipment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		MAC      string `json:"mac_address"`
		Location string `json:"location"`
		NodeID   string `json:"node_id"`
		ActorID  string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	e, err := h.registry.Create(r.Context(), registry.CreateInput{
		Name: body.Name, Type: body.Type, MAC: body.MAC,
		Location: body.Location, NodeID: body.NodeID, ActorID: body.ActorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, e)
}

// GET /api/v1/equipment
func (h *Handler) ListEquipment(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

// GET /api/v1/equipment/{id}
func (h *Handler) GetEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, e)
}

// PUT /api/v1/equipment/{id}
func (h *Handler) UpdateEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Name     *string `json:"name"`
		Type     *string `json:"type"`
		Location *string `json:"location"`
		NodeID   *string `json:"node_id"`
		ActorID  string  `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	e, err := h.registry.Update(r.Context(), id, registry.UpdateInput{
		Name: body.Name, Type: body.Type, Location: body.Location,
		NodeID: body.NodeID, ActorID: body.ActorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, e)
}

// PUT /api/v1/equipment/{id}/status
func (h *Handler) SetEquipmentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Status  string `json:"status"`
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if err := h.registry.SetStatus(r.Context(), id, body.Status, body.ActorID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/equipment/{id}
func (h *Handler) DeleteEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	actor := r.URL.Query().Get("actor_id")
	if err := h.registry.Delete(r.Context(), id, actor); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ───── пробы и heartbeat ───── */

// POST /api/v1/equipment/{id}/probe
func (h *Handler) ProbeOne(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.prober.ProbeOne(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, res)
}

// POST /api/v1/probe — внеочередной полный цикл
func (h *Handler) ProbeAll(w http.ResponseWriter, r *http.Request) {
	results := h.prober.Cycle(r.Context())
	if results == nil {
		results = []registry.ProbeResult{}
	}
	models.WriteJSON(w, http.StatusOK, results)
}

// POST /api/v1/equipment/{id}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		MeshStrength int       `json:"mesh_strength"`
		DataRate     float64   `json:"data_rate"`
		Location     string    `json:"location"`
		Timestamp    time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	err = h.registry.Heartbeat(r.Context(), registry.HeartbeatInput{
		EquipmentID:  id,
		MeshStrength: body.MeshStrength,
		DataRate:     body.DataRate,
		Location:     body.Location,
		Timestamp:    body.Timestamp,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ───── оповещения, аудит, проекции ───── */

// POST /api/v1/alerts
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type        string         `json:"type"`
		Severity    string         `json:"severity"`
		Message     string         `json:"message"`
		EquipmentID *uint          `json:"equipment_id"`
		IPAddressID *uint          `json:"ip_address_id"`
		Details     map[string]any `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if body.Type == "" {
		writeError(w, &models.ValidationError{Field: "type", Reason: "required"})
		return
	}
	a, err := h.alerts.CreateSync(r.Context(), alerts.RaiseInput{
		Type:        body.Type,
		Severity:    body.Severity,
		Message:     body.Message,
		EquipmentID: body.EquipmentID,
		IPAddressID: body.IPAddressID,
		Details:     body.Details,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, a)
}

// GET /api/v1/alerts?status=PENDING
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.List(r.Context(), r.URL.Query().Get("status"), 200)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

// POST /api/v1/alerts/{id}/resolve
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if err := h.alerts.Resolve(r.Context(), id, body.ResolvedBy); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	list, err := h.audits.List(r.Context(), 200)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

// GET /api/v1/ips — проекция для дашбордов, поведения не несёт
func (h *Handler) ListIPs(w http.ResponseWriter, r *http.Request) {
	list, err := h.ips.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

// GET /api/v1/assignments — история привязок
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.ips.ListAssignments(r.Context(), 200)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}
