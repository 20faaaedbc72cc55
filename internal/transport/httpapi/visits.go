package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/service"
	"github.com/google/uuid"
)

type createVisitRequest struct {
	Type         model.VisitType    `json:"type"`
	VisitorName  string             `json:"visitor_name"`
	VisitorRUT   *string            `json:"visitor_rut"`
	VisitorPhone *string            `json:"visitor_phone"`
	Reason       *string            `json:"reason"`
	ValidFrom    time.Time          `json:"valid_from"`
	ValidUntil   time.Time          `json:"valid_until"`
	HostID       uuid.UUID          `json:"host_id"`
	MaxUses      *int               `json:"max_uses"`
	Status       *model.VisitStatus `json:"status"`
	Plate        *string            `json:"plate"`
	VehicleBrand *string            `json:"vehicle_brand"`
	VehicleModel *string            `json:"vehicle_model"`
	VehicleColor *string            `json:"vehicle_color"`
}

type updateVisitRequest struct {
	VisitorName  *string    `json:"visitor_name"`
	VisitorRUT   *string    `json:"visitor_rut"`
	VisitorPhone *string    `json:"visitor_phone"`
	Reason       *string    `json:"reason"`
	ValidFrom    *time.Time `json:"valid_from"`
	ValidUntil   *time.Time `json:"valid_until"`
	MaxUses      *int       `json:"max_uses"`
	HostID       *uuid.UUID `json:"host_id"`
	Plate        *string    `json:"plate"`
	VehicleBrand *string    `json:"vehicle_brand"`
	VehicleModel *string    `json:"vehicle_model"`
	VehicleColor *string    `json:"vehicle_color"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) createVisit(w http.ResponseWriter, r *http.Request) {
	var in createVisitRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	visit, err := h.visits.Create(r.Context(), service.CreateVisitParams{
		Type:         in.Type,
		VisitorName:  in.VisitorName,
		VisitorRUT:   in.VisitorRUT,
		VisitorPhone: in.VisitorPhone,
		Reason:       in.Reason,
		ValidFrom:    in.ValidFrom,
		ValidUntil:   in.ValidUntil,
		HostID:       in.HostID,
		MaxUses:      in.MaxUses,
		Status:       in.Status,
		Plate:        in.Plate,
		VehicleBrand: in.VehicleBrand,
		VehicleModel: in.VehicleModel,
		VehicleColor: in.VehicleColor,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, visit)
}

func (h *Handler) getVisit(w http.ResponseWriter, r *http.Request) {
	h.visitAction(w, r, h.visits.GetByID)
}

func (h *Handler) updateVisit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var in updateVisitRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	visit, err := h.visits.Update(r.Context(), id, service.VisitPatch{
		VisitorName:  in.VisitorName,
		VisitorRUT:   in.VisitorRUT,
		VisitorPhone: in.VisitorPhone,
		Reason:       in.Reason,
		ValidFrom:    in.ValidFrom,
		ValidUntil:   in.ValidUntil,
		MaxUses:      in.MaxUses,
		HostID:       in.HostID,
		Plate:        in.Plate,
		VehicleBrand: in.VehicleBrand,
		VehicleModel: in.VehicleModel,
		VehicleColor: in.VehicleColor,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	h.visitAction(w, r, h.visits.CheckIn)
}

func (h *Handler) checkOut(w http.ResponseWriter, r *http.Request) {
	h.visitAction(w, r, h.visits.CheckOut)
}

func (h *Handler) cancelVisit(w http.ResponseWriter, r *http.Request) {
	h.visitAction(w, r, h.visits.Cancel)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var in updateStatusRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	h.visitAction(w, r, func(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
		return h.visits.UpdateStatus(ctx, id, in.Status)
	})
}

// visitAction общий каркас для операций вида visit(id)
func (h *Handler) visitAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID) (*model.Visit, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	visit, err := action(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, visit)
}
