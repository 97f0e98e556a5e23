package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/service"
	"consultation-queue-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	svc AppointmentService
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(svc AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

// CreateAppointmentRequest represents the request body for booking.
// PatientID defaults to the caller for patients.
type CreateAppointmentRequest struct {
	DoctorID       string    `json:"doctorId" validate:"required"`
	PatientID      string    `json:"patientId"`
	Mode           string    `json:"mode" validate:"required,oneof=online offline"`
	ScheduledTime  time.Time `json:"scheduledTime" validate:"required"`
	PatientName    string    `json:"patientName" validate:"max=255"`
	ChiefComplaint string    `json:"chiefComplaint" validate:"max=2000"`
}

// CreateAppointment books an appointment at the end of the doctor's day.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req CreateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	appt, err := h.svc.Book(c.Request.Context(), actor, service.BookRequest{
		DoctorID:       req.DoctorID,
		PatientID:      req.PatientID,
		Mode:           models.Mode(req.Mode),
		ScheduledTime:  req.ScheduledTime,
		PatientName:    req.PatientName,
		ChiefComplaint: req.ChiefComplaint,
	})
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Created(c, "Appointment booked successfully", appt)
}

// GetAppointmentByID returns one appointment to a participant.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	appt, err := h.svc.GetAppointment(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Appointment fetched successfully", appt)
}

// UpdateStatusRequest represents the request body for a status change.
type UpdateStatusRequest struct {
	Status   string `json:"status" validate:"required"`
	Reason   string `json:"reason" validate:"max=500"`
	MeetLink string `json:"meetLink" validate:"omitempty,url"`
	Version  *int64 `json:"version"`
}

// UpdateAppointmentStatus moves an appointment through its lifecycle.
func (h *AppointmentHandler) UpdateAppointmentStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	appt, err := h.svc.Transition(c.Request.Context(), actor, c.Param("id"), service.TransitionRequest{
		Status:   models.AppointmentStatus(req.Status),
		Reason:   req.Reason,
		MeetLink: req.MeetLink,
		Version:  req.Version,
	})
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Appointment status updated successfully", appt)
}

// RescheduleRequest represents the request body for rescheduling.
type RescheduleRequest struct {
	ScheduledTime time.Time `json:"scheduledTime" validate:"required"`
	Version       *int64    `json:"version"`
}

// RescheduleAppointment moves a pending or confirmed appointment.
func (h *AppointmentHandler) RescheduleAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req RescheduleRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	appt, err := h.svc.Reschedule(c.Request.Context(), actor, c.Param("id"), service.RescheduleRequest{
		ScheduledTime: req.ScheduledTime,
		Version:       req.Version,
	})
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Appointment rescheduled successfully", appt)
}

// JoinWaitingRoom marks the patient as present.
func (h *AppointmentHandler) JoinWaitingRoom(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	appt, err := h.svc.Join(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Joined waiting room", appt)
}

// GetQueuePosition returns the caller's live position.
func (h *AppointmentHandler) GetQueuePosition(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	pos, err := h.svc.QueuePosition(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Queue position fetched successfully", pos)
}

// GetDoctorBoard returns a doctor's day. ?date=YYYY-MM-DD, default today.
func (h *AppointmentHandler) GetDoctorBoard(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	board, err := h.svc.DoctorBoard(c.Request.Context(), actor, c.Param("doctorId"), c.Query("date"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Doctor queue fetched successfully", board)
}

// GetPatientAppointments lists a patient's appointments.
func (h *AppointmentHandler) GetPatientAppointments(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	appts, err := h.svc.PatientAppointments(c.Request.Context(), actor, c.Param("patientId"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Appointments fetched successfully", appts)
}
