package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// approvalPayload is the body of an approval API call.
type approvalPayload struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
	Cancel   bool   `json:"cancel,omitempty"`
}

// rollbackPayload is the body of a rollback API call.
type rollbackPayload struct {
	Actor string `json:"actor"`
}

// DeploymentsPostHandler accepts a new deployment request over the API and
// schedules its run. The pending record returns immediately with a 202.
func (c *Controller) DeploymentsPostHandler(w http.ResponseWriter, r *http.Request) {
	if !c.authorizeAPIRequest(w, r) {
		return
	}

	var req schemas.DeploymentRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, fmt.Sprintf("decoding request body: %v", err))

		return
	}

	// The transport decides the trigger kind, not the payload.
	req.Trigger = schemas.TriggerKindAPI

	record, err := c.AcceptDeploymentRequest(r.Context(), req)
	if err != nil {
		apiError(w, http.StatusBadRequest, err.Error())

		return
	}

	writeJSON(w, http.StatusAccepted, record)
}

// DeploymentsListHandler lists the known deployment records, most recent
// first.
func (c *Controller) DeploymentsListHandler(w http.ResponseWriter, r *http.Request) {
	if !c.authorizeAPIRequest(w, r) {
		return
	}

	stored, err := c.Store.Records(r.Context())
	if err != nil {
		log.WithContext(r.Context()).
			WithError(err).
			Error("listing deployment records from the store")
		apiError(w, http.StatusInternalServerError, "listing deployment records")

		return
	}

	records := make([]schemas.DeploymentRecord, 0, len(stored))
	for _, record := range stored {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	writeJSON(w, http.StatusOK, records)
}

// DeploymentGetHandler returns one deployment record by its identifier.
func (c *Controller) DeploymentGetHandler(w http.ResponseWriter, r *http.Request) {
	if !c.authorizeAPIRequest(w, r) {
		return
	}

	record, err := c.getRecordByID(r.Context(), r.PathValue("id"))
	if err != nil {
		apiError(w, recordErrorStatus(err), err.Error())

		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ApprovalPostHandler attaches an approval decision to a suspended run.
func (c *Controller) ApprovalPostHandler(w http.ResponseWriter, r *http.Request) {
	if !c.authorizeAPIRequest(w, r) {
		return
	}

	var payload approvalPayload

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apiError(w, http.StatusBadRequest, fmt.Sprintf("decoding request body: %v", err))

		return
	}

	signal := schemas.ApprovalSignal{
		Approved:  payload.Approved,
		Approver:  payload.Approver,
		Cancelled: payload.Cancel,
	}

	if err := c.SetApproval(r.Context(), r.PathValue("id"), signal); err != nil {
		apiError(w, recordErrorStatus(err), err.Error())

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RollbackPostHandler schedules a rollback of a previously deployed record.
func (c *Controller) RollbackPostHandler(w http.ResponseWriter, r *http.Request) {
	if !c.authorizeAPIRequest(w, r) {
		return
	}

	var payload rollbackPayload

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apiError(w, http.StatusBadRequest, fmt.Sprintf("decoding request body: %v", err))

		return
	}

	record, err := c.NewRollbackRun(r.Context(), r.PathValue("id"), payload.Actor, schemas.TriggerKindAPI)
	if err != nil {
		apiError(w, recordErrorStatus(err), err.Error())

		return
	}

	writeJSON(w, http.StatusAccepted, record)
}

// authorizeAPIRequest enforces the configured bearer token. A blank
// configured token leaves the API open, matching the webhook secret
// behaviour.
func (c *Controller) authorizeAPIRequest(w http.ResponseWriter, r *http.Request) bool {
	if c.Config.Server.API.Token == "" {
		return true
	}

	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || token != c.Config.Server.API.Token {
		log.WithFields(log.Fields{
			"ip-address": r.RemoteAddr,
		}).Debug("invalid token provided for API request")

		apiError(w, http.StatusForbidden, "invalid token")

		return false
	}

	return true
}

// recordErrorStatus maps record lookup and mutation errors onto HTTP status
// codes.
func recordErrorStatus(err error) int {
	switch {
	case errors.Is(err, errRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, errNotAwaitingApproval):
		return http.StatusConflict
	case errors.Is(err, schemas.ErrRollbackTargetInvalid):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// writeJSON serializes a response payload with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Warn("encoding API response")
	}
}

// apiError writes a JSON error body with the given status code.
func apiError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
