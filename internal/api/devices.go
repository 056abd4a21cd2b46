package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/model"
)

// notificationRequest is the body of POST /devices/{id}/notifications.
type notificationRequest struct {
	Notification string          `json:"notification"`
	Timestamp    time.Time       `json:"timestamp,omitzero"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Command    string          `json:"command"`
	Timestamp  time.Time       `json:"timestamp,omitzero"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Lifetime   int             `json:"lifetime,omitempty"`
}

// commandUpdateRequest is the body of PUT /devices/{id}/commands/{commandID}.
type commandUpdateRequest struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// entityRequest is the body of PUT /networks/{id} and /device-types/{id}.
type entityRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// deviceRequest is the body of PUT /devices/{id}.
type deviceRequest struct {
	Name         string `json:"name"`
	NetworkID    int64  `json:"networkId"`
	DeviceTypeID int64  `json:"deviceTypeId,omitempty"`
	Blocked      bool   `json:"blocked,omitempty"`
}

// handleInsertNotification stores a notification sent by a device.
func (s *Server) handleInsertNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n, err := s.service.InsertNotification(r.Context(), model.DeviceNotification{
		DeviceID:     chi.URLParam(r, "id"),
		Notification: req.Notification,
		Timestamp:    req.Timestamp,
		Parameters:   req.Parameters,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// handleInsertCommand stores a command for a device.
func (s *Server) handleInsertCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := s.service.InsertCommand(r.Context(), model.DeviceCommand{
		DeviceID:   chi.URLParam(r, "id"),
		Command:    req.Command,
		Timestamp:  req.Timestamp,
		Parameters: req.Parameters,
		Lifetime:   req.Lifetime,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleUpdateCommand records a device's response to a command.
func (s *Server) handleUpdateCommand(w http.ResponseWriter, r *http.Request) {
	commandID, ok := int64Param(w, r, "commandID")
	if !ok {
		return
	}
	var req commandUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.service.UpdateCommand(r.Context(), model.DeviceCommand{
		ID:       commandID,
		DeviceID: chi.URLParam(r, "id"),
		Status:   req.Status,
		Result:   req.Result,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveNetwork creates or replaces a network.
func (s *Server) handleSaveNetwork(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req entityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n := directory.Network{ID: id, Name: req.Name, Description: req.Description}
	if err := s.service.SaveNetwork(r.Context(), n); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleDeleteNetwork deletes a network and its devices.
func (s *Server) handleDeleteNetwork(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	devices, err := s.service.DeleteNetwork(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": nonNilSlice(devices)})
}

// handleSaveDeviceType creates or replaces a device type.
func (s *Server) handleSaveDeviceType(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req entityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	t := directory.DeviceType{ID: id, Name: req.Name, Description: req.Description}
	if err := s.service.SaveDeviceType(r.Context(), t); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteDeviceType deletes a device type and its devices.
func (s *Server) handleDeleteDeviceType(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	devices, err := s.service.DeleteDeviceType(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": nonNilSlice(devices)})
}

// handleSaveDevice creates or replaces a device.
func (s *Server) handleSaveDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	d := directory.Device{
		ID:           chi.URLParam(r, "id"),
		Name:         req.Name,
		NetworkID:    req.NetworkID,
		DeviceTypeID: req.DeviceTypeID,
		Blocked:      req.Blocked,
	}
	if err := s.service.SaveDevice(r.Context(), d); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice deletes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSubscriptions lists the subscriptions held by this frontend.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	regs, err := s.service.ListSubscriptions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": regs,
		"count":         len(regs),
	})
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// int64Param parses a positive integer URL parameter, writing a 400 on failure.
func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		writeBadRequest(w, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}
