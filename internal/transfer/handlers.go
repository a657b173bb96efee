package transfer

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meridianbank/transferauth/internal/validation"
)

// Handler provides HTTP endpoints for the transfer pipeline.
type Handler struct {
	service *Service
}

// NewHandler creates a new transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the transfer routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transfers", h.Submit)
	r.POST("/transfers/:id/verify-pin", h.VerifyPin)
	r.POST("/transfers/:id/verify-code", h.VerifyTwoFactor)
	r.POST("/transfers/:id/decision", h.DecideApproval)
	r.GET("/transfers/:id", h.GetStatus)
	r.GET("/transfers/:id/audit", h.Audit)
	r.GET("/requesters/:id/transfers", h.ListByRequester)
}

// Submit handles POST /v1/transfers
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	req.SourceIP = c.ClientIP()
	req.Description = validation.SanitizeString(req.Description, validation.MaxStringLength)

	if errs := validation.Validate(
		validation.Required("requesterId", req.RequesterID),
		validation.ValidAmount("amount", req.Amount),
		validation.ValidCurrency("currency", req.Currency),
		validation.ValidAccountRef("destinationAccount", req.DestinationAccount),
		validation.ValidBankCode("destinationBank", req.DestinationBank),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrDuplicateInFlight) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_submission",
				"message": "A submission with this idempotency key is still in flight",
			})
			return
		}
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "submit_failed",
			"message": "Failed to submit transfer",
		})
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// VerifyPin handles POST /v1/transfers/:id/verify-pin
func (h *Handler) VerifyPin(c *gin.Context) {
	var req struct {
		Pin string `json:"pin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "pin is required",
		})
		return
	}

	t, err := h.service.VerifyPin(c.Request.Context(), c.Param("id"), req.Pin)
	h.respondVerification(c, t, err)
}

// VerifyTwoFactor handles POST /v1/transfers/:id/verify-code
func (h *Handler) VerifyTwoFactor(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "code is required",
		})
		return
	}

	t, err := h.service.VerifyTwoFactor(c.Request.Context(), c.Param("id"), req.Code)
	h.respondVerification(c, t, err)
}

// respondVerification maps PIN/code verification outcomes. Several failures
// still carry a state change (expiry, exhaustion), so the transfer's state
// rides along with the error.
func (h *Handler) respondVerification(c *gin.Context, t *TransferRequest, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"state": t.State, "version": t.Version})
		return
	}

	switch {
	case errors.Is(err, ErrTransferNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transfer not found"})
	case errors.Is(err, ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_challenge", "message": "No active challenge for this transfer"})
	case errors.Is(err, ErrCodeInvalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "code_invalid", "message": "Verification failed", "state": stateOf(t)})
	case errors.Is(err, ErrCodeExpired):
		c.JSON(http.StatusGone, gin.H{"error": "code_expired", "message": "Verification code expired", "state": stateOf(t)})
	case errors.Is(err, ErrCodeExhausted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "code_exhausted", "message": "Verification attempts exhausted", "state": stateOf(t)})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version_conflict", "message": "Transfer was modified concurrently, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed", "message": "Verification failed"})
	}
}

// DecideApproval handles POST /v1/transfers/:id/decision
func (h *Handler) DecideApproval(c *gin.Context) {
	var req struct {
		ApproverID string `json:"approverId" binding:"required"`
		Accept     *bool  `json:"accept" binding:"required"`
		Comment    string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "approverId and accept are required",
		})
		return
	}

	comment := validation.SanitizeString(req.Comment, validation.MaxStringLength)
	t, err := h.service.DecideApproval(c.Request.Context(), c.Param("id"), req.ApproverID, *req.Accept, comment)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransferNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transfer not found"})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
		case errors.Is(err, ErrVersionConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "version_conflict", "message": "Transfer was modified concurrently, retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "decision_failed", "message": "Failed to record decision"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": t.State, "version": t.Version})
}

// GetStatus handles GET /v1/transfers/:id
func (h *Handler) GetStatus(c *gin.Context) {
	result, err := h.service.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transfer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load transfer"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Audit handles GET /v1/transfers/:id/audit
func (h *Handler) Audit(c *gin.Context) {
	entries, err := h.service.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transfer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}

// ListByRequester handles GET /v1/requesters/:id/transfers
func (h *Handler) ListByRequester(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	transfers, err := h.service.ListByRequester(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list transfers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

func stateOf(t *TransferRequest) State {
	if t == nil {
		return ""
	}
	return t.State
}
