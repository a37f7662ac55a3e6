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

// IssuerHandler handles the authenticated document management API
type IssuerHandler struct {
	issuerUseCase  *usecase.IssuerUseCase
	maxUploadBytes int64
}

// NewIssuerHandler creates a new issuer handler
func NewIssuerHandler(issuerUseCase *usecase.IssuerUseCase, maxUploadBytes int64) *IssuerHandler {
	return &IssuerHandler{
		issuerUseCase:  issuerUseCase,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers document routes on a router mounted at
// /api/v1/documents
func (h *IssuerHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.CreateDocument).Methods("POST")
	router.HandleFunc("/{id}", h.DiscardDraft).Methods("DELETE")
	router.HandleFunc("/{id}/fields", h.DefineFields).Methods("POST")
	router.HandleFunc("/{id}/recipients", h.AddRecipient).Methods("POST")
	router.HandleFunc("/{id}/fields/{fieldID}/assign", h.AssignField).Methods("POST")
	router.HandleFunc("/{id}/send", h.Send).Methods("POST")
	router.HandleFunc("/{id}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/{id}/recipients/{recipientID}/rotate-token", h.RotateToken).Methods("POST")
	router.HandleFunc("/{id}/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/{id}/audit", h.GetAuditTrail).Methods("GET")
}

// CreateDocument handles draft creation. The source PDF arrives base64-encoded
// in the JSON body.
func (h *IssuerHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var req usecase.CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	req.IssuerID = IssuerID(r.Context())

	doc, err := h.issuerUseCase.CreateDocument(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "Document created", doc)
}

// DefineFields handles field layout on a draft
func (h *IssuerHandler) DefineFields(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields []usecase.FieldSpec `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	defs, err := h.issuerUseCase.DefineFields(r.Context(), mux.Vars(r)["id"], IssuerID(r.Context()), req.Fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "Fields defined", defs)
}

// AddRecipient handles adding a recipient to a draft
func (h *IssuerHandler) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		SigningOrder int    `json:"signing_order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.Email == "" {
		response.BadRequest(w, "Email is required")
		return
	}

	rec, err := h.issuerUseCase.AddRecipient(r.Context(), mux.Vars(r)["id"], IssuerID(r.Context()), req.Email, req.SigningOrder)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "Recipient added", rec)
}

// AssignField handles binding a field to a recipient
func (h *IssuerHandler) AssignField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.RecipientID == "" {
		response.BadRequest(w, "Recipient ID is required")
		return
	}

	vars := mux.Vars(r)
	if err := h.issuerUseCase.AssignField(r.Context(), vars["id"], IssuerID(r.Context()), vars["fieldID"], req.RecipientID); err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Field assigned", nil)
}

// Send handles the draft-to-pending transition and returns signing links.
// The links carry the only plaintext copy of each token.
func (h *IssuerHandler) Send(w http.ResponseWriter, r *http.Request) {
	resp, err := h.issuerUseCase.Send(r.Context(), mux.Vars(r)["id"], IssuerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Document sent", resp)
}

// Cancel handles issuer cancellation of a pending document
func (h *IssuerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.issuerUseCase.Cancel(r.Context(), mux.Vars(r)["id"], IssuerID(r.Context())); err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Document cancelled", nil)
}

// DiscardDraft handles deleting an unsent draft
func (h *IssuerHandler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.issuerUseCase.DiscardDraft(r.Context(), mux.Vars(r)["id"], IssuerID(r.Context())); err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Draft discarded", nil)
}

// RotateToken handles reissuing a recipient's signing token
func (h *IssuerHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, err := h.issuerUseCase.RotateToken(r.Context(), vars["id"], IssuerID(r.Context()), vars["recipientID"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Token rotated", map[string]string{"token": tok})
}

// GetStatus handles the document status report
func (h *IssuerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.issuerUseCase.GetStatus(r.Context(), mux.Vars(r)["id"], IssuerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Document status", status)
}

// GetAuditTrail handles the full audit log read
func (h *IssuerHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.issuerUseCase.GetAuditTrail(r.Context(), mux.Vars(r)["id"], IssuerID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Audit trail", entries)
}

func (h *IssuerHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound),
		errors.Is(err, domain.ErrRecipientNotFound),
		errors.Is(err, domain.ErrFieldNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Conflict(w, err.Error())
	case domain.IsValidation(err):
		response.UnprocessableEntity(w, err.Error())
	default:
		response.InternalServerError(w, "Internal server error")
	}
}
