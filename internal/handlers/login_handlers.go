package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/login"
	"github.com/vendorportal/vendorportal/internal/middleware"
	"github.com/vendorportal/vendorportal/internal/models"
)

type LoginHandlers struct {
	controller *login.Controller
	logger     *logrus.Logger
}

func NewLoginHandlers(controller *login.Controller, logger *logrus.Logger) *LoginHandlers {
	return &LoginHandlers{
		controller: controller,
		logger:     logger,
	}
}

type SendCodeRequest struct {
	Email string `json:"email"`
}

type EnterCodeRequest struct {
	Code string `json:"code"`
}

type FlowResponse struct {
	Flow login.View `json:"flow"`
}

type LoginResponse struct {
	Flow        login.View   `json:"flow"`
	Destination string       `json:"destination"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

func (h *LoginHandlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := h.controller.View(r.Context(), middleware.SessionID(r.Context()))
	h.respondWithFlow(w, flow, err)
}

func (h *LoginHandlers) SendCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	flow, err := h.controller.SendCode(r.Context(), middleware.SessionID(r.Context()), req.Email)
	h.respondWithFlow(w, flow, err)
}

func (h *LoginHandlers) EnterCode(w http.ResponseWriter, r *http.Request) {
	var req EnterCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	flow, err := h.controller.EnterCode(r.Context(), middleware.SessionID(r.Context()), req.Code)
	h.respondWithFlow(w, flow, err)
}

// Verify accepts an optional {"code": "..."} body, recorded as if typed
// before verification.
func (h *LoginHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())

	var req EnterCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.Code != "" {
		if flow, err := h.controller.EnterCode(r.Context(), sessionID, req.Code); err != nil {
			h.respondWithFlow(w, flow, err)
			return
		}
	}

	result, err := h.controller.Verify(r.Context(), sessionID)
	if err != nil {
		var flow *login.Flow
		if result != nil {
			flow = result.Flow
		}
		h.respondWithFlow(w, flow, err)
		return
	}

	respondWithJSON(w, http.StatusOK, LoginResponse{
		Flow:        result.Flow.View(),
		Destination: result.Destination,
		AccessToken: result.Tokens.AccessToken,
		TokenType:   result.Tokens.TokenType,
		ExpiresIn:   result.Tokens.ExpiresIn,
		User:        result.User,
	})
}

func (h *LoginHandlers) Resend(w http.ResponseWriter, r *http.Request) {
	flow, err := h.controller.Resend(r.Context(), middleware.SessionID(r.Context()))
	h.respondWithFlow(w, flow, err)
}

func (h *LoginHandlers) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	flow, err := h.controller.ChangeEmail(r.Context(), middleware.SessionID(r.Context()))
	h.respondWithFlow(w, flow, err)
}

func (h *LoginHandlers) DismissNotice(w http.ResponseWriter, r *http.Request) {
	flow, err := h.controller.DismissNotice(r.Context(), middleware.SessionID(r.Context()))
	h.respondWithFlow(w, flow, err)
}

func (h *LoginHandlers) respondWithFlow(w http.ResponseWriter, flow *login.Flow, err error) {
	if err == nil {
		respondWithJSON(w, http.StatusOK, FlowResponse{Flow: flow.View()})
		return
	}

	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	message := "Something went wrong. Please try again."
	switch {
	case login.IsValidation(err):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, login.ErrInvalidOTP):
		status, code = http.StatusUnauthorized, "INVALID_OTP"
	case errors.Is(err, login.ErrWrongStep):
		status, code = http.StatusConflict, "WRONG_STEP"
		message = "That action is not available right now"
	case errors.Is(err, login.ErrBusy):
		status, code = http.StatusConflict, "REQUEST_IN_PROGRESS"
		message = "Please wait for the current request to finish"
	case errors.Is(err, login.ErrStale):
		status, code = http.StatusConflict, "FLOW_CHANGED"
		message = "The login form changed, please try again"
	case errors.Is(err, login.ErrOperation):
		status, code = http.StatusBadGateway, "OPERATION_FAILED"
	default:
		h.logger.WithError(err).Error("Login flow request failed")
	}

	resp := ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
	if flow != nil {
		if flow.Notice != nil && flow.Notice.Kind == login.NoticeError {
			resp.Error.Message = flow.Notice.Message
		}
		resp.Flow = flow.View()
	}
	respondWithJSON(w, status, resp)
}
