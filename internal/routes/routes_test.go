package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation-queue-server/internal/config"
	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/queue"
	"consultation-queue-server/internal/service"
	"consultation-queue-server/internal/store/memory"
	"consultation-queue-server/internal/utils"
)

const secret = "test-secret"

type app struct {
	router  *gin.Engine
	doctor  models.User
	patient models.User
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	a := &app{
		doctor:  st.PutUser(models.User{FirstName: "Ravi", LastName: "Iyer", Role: models.RoleDoctor}),
		patient: st.PutUser(models.User{FirstName: "Asha", LastName: "Rao", Role: models.RolePatient}),
	}
	svc := service.New(st, events.NewMemoryBus(zerolog.Nop()), service.Options{
		Location: time.UTC,
		Defaults: queue.Settings{AvgConsultationMinutes: 15, WaitingRoomThreshold: 10},
		Policy:   messaging.Policy{AllowAfterCompletion: true},
	}, zerolog.Nop())

	cfg := &config.Config{JWTSecret: secret, Stream: config.StreamConfig{Heartbeat: time.Second}}
	a.router = gin.New()
	SetupRoutes(a.router, svc, cfg, zerolog.Nop())
	return a
}

func (a *app) call(t *testing.T, user models.User, method, path, body string) (int, json.RawMessage, string) {
	t.Helper()
	token, err := utils.GenerateAccessToken(user.ID, user.Role, secret, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env struct {
		Data json.RawMessage `json:"data"`
		Code string          `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env.Data, env.Code
}

func TestConsultationFlow(t *testing.T) {
	a := newApp(t)
	when := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	status, data, _ := a.call(t, a.patient, http.MethodPost, "/api/v1/appointments",
		`{"doctorId":"`+a.doctor.ID+`","mode":"online","scheduledTime":"`+when+`"}`)
	require.Equal(t, http.StatusCreated, status)
	var appt models.Appointment
	require.NoError(t, json.Unmarshal(data, &appt))
	assert.Equal(t, 1, appt.QueueNumber)

	base := "/api/v1/appointments/" + appt.ID

	status, _, code := a.call(t, a.patient, http.MethodPatch, base+"/status", `{"status":"confirmed"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", code)

	status, _, _ = a.call(t, a.doctor, http.MethodPatch, base+"/status", `{"status":"confirmed","version":1}`)
	require.Equal(t, http.StatusOK, status)

	status, _, code = a.call(t, a.doctor, http.MethodPatch, base+"/status", `{"status":"in_progress"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "missing_meeting_link", code)

	status, _, _ = a.call(t, a.doctor, http.MethodPatch, base+"/status", `{"status":"in_progress","meetLink":"https://meet.example/r"}`)
	require.Equal(t, http.StatusOK, status)

	status, data, _ = a.call(t, a.patient, http.MethodGet, base+"/queue-position", "")
	require.Equal(t, http.StatusOK, status)
	var pos queue.Position
	require.NoError(t, json.Unmarshal(data, &pos))
	assert.True(t, pos.IsYourTurn)
	assert.Equal(t, "https://meet.example/r", pos.MeetLink)

	status, _, _ = a.call(t, a.patient, http.MethodPost, base+"/messages", `{"content":"joining now","clientKey":"c1"}`)
	assert.Equal(t, http.StatusCreated, status)
	status, _, _ = a.call(t, a.patient, http.MethodPost, base+"/messages", `{"content":"joining now","clientKey":"c1"}`)
	assert.Equal(t, http.StatusOK, status)

	status, data, _ = a.call(t, a.doctor, http.MethodGet, base+"/messages", "")
	require.Equal(t, http.StatusOK, status)
	var thread messaging.ThreadView
	require.NoError(t, json.Unmarshal(data, &thread))
	// Two lifecycle notices and one patient message.
	assert.Len(t, thread.Messages, 3)

	status, _, code = a.call(t, a.doctor, http.MethodPatch, base+"/status", `{"status":"confirmed"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", code)

	status, data, _ = a.call(t, a.doctor, http.MethodGet, "/api/v1/conversations/"+a.patient.ID, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), appt.ID)
}

func TestRoleGuards(t *testing.T) {
	a := newApp(t)

	status, _, _ := a.call(t, a.patient, http.MethodGet, "/api/v1/appointments/doctor/"+a.doctor.ID, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, _, _ = a.call(t, a.patient, http.MethodGet, "/api/v1/doctors/"+a.doctor.ID+"/settings", "")
	assert.Equal(t, http.StatusForbidden, status)

	status, _, _ = a.call(t, a.doctor, http.MethodPut, "/api/v1/doctors/"+a.doctor.ID+"/settings", `{"consultationDurationMins":20}`)
	assert.Equal(t, http.StatusOK, status)

	status, data, _ := a.call(t, a.doctor, http.MethodGet, "/api/v1/appointments/doctor/"+a.doctor.ID, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `"stats"`)
}

func TestUnauthenticatedAndHealth(t *testing.T) {
	a := newApp(t)

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
}
