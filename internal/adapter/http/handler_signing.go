package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/signato/signato/internal/adapter/http/response"
	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/usecase"
)

// invalidLinkMessage is deliberately the same for unknown, expired, and
// revoked tokens so callers cannot probe which one they hit
const invalidLinkMessage = "This signing link is no longer valid"

// SigningHandler handles the token-gated recipient API
type SigningHandler struct {
	signingUseCase *usecase.SigningUseCase
}

// NewSigningHandler creates a new signing handler
func NewSigningHandler(signingUseCase *usecase.SigningUseCase) *SigningHandler {
	return &SigningHandler{signingUseCase: signingUseCase}
}

// RegisterRoutes registers signing routes on a router mounted at /api/v1/sign
func (h *SigningHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/{token}", h.GetView).Methods("GET")
	router.HandleFunc("/{token}/fields/{fieldID}", h.SubmitField).Methods("POST")
	router.HandleFunc("/{token}/complete", h.CompleteSigning).Methods("POST")
	router.HandleFunc("/{token}/decline", h.Decline).Methods("POST")
}

// GetView handles a recipient opening their signing link
func (h *SigningHandler) GetView(w http.ResponseWriter, r *http.Request) {
	view, err := h.signingUseCase.GetView(r.Context(), mux.Vars(r)["token"], clientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Signing view", view)
}

// SubmitField handles a recipient filling one field
func (h *SigningHandler) SubmitField(w http.ResponseWriter, r *http.Request) {
	var req usecase.SubmitFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	vars := mux.Vars(r)
	req.Token = vars["token"]
	req.FieldID = vars["fieldID"]
	req.RemoteAddr = clientIP(r)

	if err := h.signingUseCase.SubmitField(r.Context(), req); err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Field submitted", nil)
}

// CompleteSigning handles a recipient finishing their part
func (h *SigningHandler) CompleteSigning(w http.ResponseWriter, r *http.Request) {
	if err := h.signingUseCase.CompleteSigning(r.Context(), mux.Vars(r)["token"], clientIP(r)); err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Signing completed", nil)
}

// Decline handles a recipient declining to sign
func (h *SigningHandler) Decline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.signingUseCase.Decline(r.Context(), mux.Vars(r)["token"], req.Reason, clientIP(r)); err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Document declined", nil)
}

func (h *SigningHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsTokenFailure(err):
		response.NotFound(w, invalidLinkMessage)
	case errors.Is(err, domain.ErrOutOfOrder):
		response.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrDocumentLocked):
		response.Locked(w, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Conflict(w, err.Error())
	case domain.IsValidation(err):
		response.UnprocessableEntity(w, err.Error())
	default:
		response.InternalServerError(w, "Internal server error")
	}
}
