package controlplane

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/arcflow/engine/pkg/engine"
	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/queue"
)

// Handler holds the dependencies shared by the control plane's HTTP routes.
type Handler struct {
	deps *engine.Dependencies
	db   *sql.DB
	hub  *Hub
}

type createInstanceRequest struct {
	WorkflowName model.WorkflowName `json:"workflow_name"`
}

type createInstanceResponse struct {
	InstanceID model.InstanceId `json:"instance_id"`
}

// createInstance is the New-Instance injection point: it does nothing more
// than validate the workflow name against the loaded project and enqueue a
// WorkflowInstance onto the New-Instance queue. The engine pipeline does the
// rest asynchronously.
func (h *Handler) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkflowName == "" {
		http.Error(w, "workflow_name is required", http.StatusBadRequest)
		return
	}
	if _, ok := h.deps.Project.WorkflowByName(req.WorkflowName); !ok {
		http.Error(w, "unknown workflow_name", http.StatusNotFound)
		return
	}

	instance := model.WorkflowInstance{
		InstanceId:   model.NewInstanceId(),
		WorkflowName: req.WorkflowName,
	}
	body, err := json.Marshal(instance)
	if err != nil {
		http.Error(w, "encode instance", http.StatusInternalServerError)
		return
	}
	if err := h.deps.Queues.Sender(queue.KindNewInstance).Send(r.Context(), body); err != nil {
		http.Error(w, "enqueue instance", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(createInstanceResponse{InstanceID: instance.InstanceId})
}

type postEventRequest struct {
	InstanceID model.InstanceId `json:"instance_id"`
	Kind       string           `json:"kind"`
	Data       json.RawMessage  `json:"data"`
}

// postEvent is the New-Event injection point: it decodes the event's leaf
// kind via the type registry and hands it to the rendezvous pipeline. A
// decode failure here is a caller error (400), distinct from the dead-letter
// path the pipeline uses once a message is already on the wire.
func (h *Handler) postEvent(w http.ResponseWriter, r *http.Request) {
	var req postEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	leaf, err := model.DecodeLeafEvent(req.Kind, req.Data)
	if err != nil {
		http.Error(w, "unknown event kind", http.StatusBadRequest)
		return
	}

	ie := model.InstanceEvent{
		InstanceId: req.InstanceID,
		Event:      model.WidenEvent(model.WorkflowName(""), leaf),
	}
	body, err := json.Marshal(ie)
	if err != nil {
		http.Error(w, "encode event", http.StatusInternalServerError)
		return
	}
	if err := h.deps.Queues.Sender(queue.KindEvent).Send(r.Context(), body); err != nil {
		http.Error(w, "enqueue event", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// healthz reports liveness plus a shallow database connectivity probe.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "db unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ws(w http.ResponseWriter, r *http.Request) {
	h.hub.serveWS(w, r)
}
