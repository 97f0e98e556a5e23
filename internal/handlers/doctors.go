package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/service"
	"consultation-queue-server/internal/utils"
)

// DoctorHandler handles a doctor's queue settings and availability.
type DoctorHandler struct {
	svc DoctorService
}

// NewDoctorHandler creates a new DoctorHandler.
func NewDoctorHandler(svc DoctorService) *DoctorHandler {
	return &DoctorHandler{svc: svc}
}

// GetSettings returns the doctor's settings, or the defaults.
func (h *DoctorHandler) GetSettings(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	settings, err := h.svc.Settings(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Settings fetched successfully", settings)
}

// UpdateSettingsRequest is a partial update; absent fields keep their value.
type UpdateSettingsRequest struct {
	ConsultationDurationMins *int    `json:"consultationDurationMins" validate:"omitempty,gte=0,lte=240"`
	WaitingRoomThreshold     *int    `json:"waitingRoomThreshold" validate:"omitempty,gte=0"`
	CustomMeetLink           *string `json:"customMeetLink" validate:"omitempty,max=512"`
	HospitalAddress          *string `json:"hospitalAddress" validate:"omitempty,max=500"`
	AcceptingAppointments    *bool   `json:"acceptingAppointments"`
}

// UpdateSettings applies a partial update.
func (h *DoctorHandler) UpdateSettings(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req UpdateSettingsRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	current, err := h.svc.Settings(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	if req.ConsultationDurationMins != nil {
		current.ConsultationDurationMins = *req.ConsultationDurationMins
	}
	if req.WaitingRoomThreshold != nil {
		current.WaitingRoomThreshold = req.WaitingRoomThreshold
	}
	if req.CustomMeetLink != nil {
		current.CustomMeetLink = *req.CustomMeetLink
	}
	if req.HospitalAddress != nil {
		current.HospitalAddress = *req.HospitalAddress
	}
	if req.AcceptingAppointments != nil {
		current.AcceptingAppointments = *req.AcceptingAppointments
	}

	saved, err := h.svc.SaveSettings(c.Request.Context(), actor, current)
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Settings updated successfully", saved)
}

// UnavailabilityRequest marks the doctor away. StartTime defaults to now.
type UnavailabilityRequest struct {
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime" validate:"required"`
	Reason        string    `json:"reason" validate:"omitempty,oneof=break emergency personal other"`
	CustomMessage string    `json:"customMessage" validate:"max=500"`
}

// AddUnavailability records a window shown to waiting patients.
func (h *DoctorHandler) AddUnavailability(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req UnavailabilityRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	window, err := h.svc.AddUnavailability(c.Request.Context(), actor, c.Param("id"), service.UnavailabilityRequest{
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Reason:        models.UnavailabilityReason(req.Reason),
		CustomMessage: req.CustomMessage,
	})
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Created(c, "Unavailability recorded", window)
}
