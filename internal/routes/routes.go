package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"consultation-queue-server/internal/config"
	"consultation-queue-server/internal/handlers"
	"consultation-queue-server/internal/middleware"
	"consultation-queue-server/internal/models"
)

// Service is everything the routes need.
type Service interface {
	handlers.AppointmentService
	handlers.MessageService
	handlers.DoctorService
	handlers.StreamService
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, svc Service, cfg *config.Config, logger zerolog.Logger) {
	appointmentHandler := handlers.NewAppointmentHandler(svc)
	messageHandler := handlers.NewMessageHandler(svc)
	doctorHandler := handlers.NewDoctorHandler(svc)
	streamHandler := handlers.NewStreamHandler(svc, cfg.Stream.Heartbeat, logger)

	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	{
		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)
			appointmentRoutes.PATCH("/:id/status", appointmentHandler.UpdateAppointmentStatus)
			appointmentRoutes.PATCH("/:id/reschedule", appointmentHandler.RescheduleAppointment)
			appointmentRoutes.GET("/:id/queue-position", appointmentHandler.GetQueuePosition)
			appointmentRoutes.POST("/:id/join", middleware.RoleAuthMiddleware(models.RolePatient), appointmentHandler.JoinWaitingRoom)
			appointmentRoutes.GET("/:id/messages", messageHandler.GetThread)
			appointmentRoutes.POST("/:id/messages", messageHandler.SendMessage)

			// Board access is checked against the doctor id in the handler.
			appointmentRoutes.GET("/doctor/:doctorId", middleware.RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin), appointmentHandler.GetDoctorBoard)
			appointmentRoutes.GET("/patient/:patientId", appointmentHandler.GetPatientAppointments)
		}

		conversationRoutes := private.Group("/conversations")
		conversationRoutes.Use(middleware.RoleAuthMiddleware(models.RoleDoctor, models.RolePatient))
		{
			conversationRoutes.GET("", messageHandler.GetConversations)
			conversationRoutes.GET("/:counterpartId", messageHandler.GetConversation)
		}

		doctorRoutes := private.Group("/doctors/:id")
		doctorRoutes.Use(middleware.RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin))
		{
			doctorRoutes.GET("/settings", doctorHandler.GetSettings)
			doctorRoutes.PUT("/settings", doctorHandler.UpdateSettings)
			doctorRoutes.POST("/unavailability", doctorHandler.AddUnavailability)
		}

		private.GET("/stream/appointments/:id", streamHandler.StreamAppointment)
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
}
