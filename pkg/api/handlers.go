package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/satoshiflow/BRAiN-sub001/pkg/approval"
	"github.com/satoshiflow/BRAiN-sub001/pkg/diffaudit"
	"github.com/satoshiflow/BRAiN-sub001/pkg/ir"
	"github.com/satoshiflow/BRAiN-sub001/pkg/kernel"
)

const maxBodyBytes = 1 << 20 // 1MB limit

// Server exposes the kernel's external interface over HTTP.
type Server struct {
	kernel *kernel.Kernel
}

// NewServer wraps a kernel.
func NewServer(k *kernel.Kernel) *Server {
	return &Server{kernel: k}
}

// Handler returns the fully routed and middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/governance/validate", s.handleValidate)
	mux.HandleFunc("POST /api/v1/governance/audit", s.handleAudit)
	mux.HandleFunc("POST /api/v1/governance/clear", s.handleClear)
	mux.HandleFunc("POST /api/v1/approvals", s.handleCreateApproval)
	mux.HandleFunc("POST /api/v1/approvals/consume", s.handleConsumeApproval)
	mux.HandleFunc("GET /api/v1/approvals/{id}", s.handleApprovalStatus)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return RequestIDMiddleware(mux)
}

// handleValidate runs the policy validator on a wire-format IR. REJECT is
// an expected, handled outcome: it still returns 200 with the result.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", "request body must be a JSON IR document")
		return
	}

	tenantHint := ""
	var envelope struct {
		TenantID string `json:"tenant_id"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		tenantHint = envelope.TenantID
	}

	result := s.kernel.ValidateJSON(r.Context(), raw, tenantHint, GetRequestID(r.Context()))
	writeJSON(w, http.StatusOK, result)
}

type createApprovalRequest struct {
	TenantID   string `json:"tenant_id"`
	IRHash     string `json:"ir_hash"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req createApprovalRequest
	if err := decodeStrict(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	grant, err := s.kernel.RequestApproval(r.Context(), req.TenantID, req.IRHash,
		time.Duration(req.TTLSeconds)*time.Second, GetRequestID(r.Context()))
	if err != nil {
		if errors.Is(err, approval.ErrInvalidTTL) {
			WriteError(w, r, http.StatusBadRequest, "invalid_ttl", err.Error())
			return
		}
		WriteError(w, r, http.StatusBadRequest, "approval_create_failed", err.Error())
		return
	}
	// The token in this response is the only copy that will ever exist.
	writeJSON(w, http.StatusCreated, grant)
}

type consumeApprovalRequest struct {
	TenantID string `json:"tenant_id"`
	IRHash   string `json:"ir_hash"`
	Token    string `json:"token"`
}

func (s *Server) handleConsumeApproval(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req consumeApprovalRequest
	if err := decodeStrict(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	result, err := s.kernel.ConsumeApproval(r.Context(), req.TenantID, req.IRHash, req.Token, GetRequestID(r.Context()))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "approval_consume_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.kernel.ApprovalStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			WriteError(w, r, http.StatusNotFound, "approval_not_found", "no approval with that id")
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "approval_status_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type gateRequest struct {
	IR    json.RawMessage `json:"ir"`
	DAG   *diffaudit.DAG  `json:"dag"`
	Token string          `json:"token,omitempty"`
}

func (s *Server) parseGateRequest(w http.ResponseWriter, r *http.Request) (*ir.IR, *diffaudit.DAG, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req gateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return nil, nil, "", false
	}
	if req.DAG == nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", "dag is required")
		return nil, nil, "", false
	}
	doc, err := ir.Parse(req.IR)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_ir", err.Error())
		return nil, nil, "", false
	}
	return doc, req.DAG, req.Token, true
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	doc, dag, _, ok := s.parseGateRequest(w, r)
	if !ok {
		return
	}

	result, err := s.kernel.Audit(r.Context(), doc, dag, GetRequestID(r.Context()))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "diff_audit_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleClear runs the full gate sequence. A blocked attempt is a 403
// problem response, never a retryable warning.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	doc, dag, token, ok := s.parseGateRequest(w, r)
	if !ok {
		return
	}

	clearance, err := s.kernel.Clear(r.Context(), doc, dag, token, GetRequestID(r.Context()))
	if err != nil {
		if errors.Is(err, kernel.ErrExecutionBlocked) {
			WriteError(w, r, http.StatusForbidden, "execution_blocked", err.Error())
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "clear_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, clearance)
}

func decodeStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
