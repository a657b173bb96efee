package stp

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianbank/transferauth/internal/idgen"
	"github.com/meridianbank/transferauth/internal/logging"
)

// Handler exposes rule administration over HTTP.
type Handler struct {
	store     Store
	evaluator *Evaluator
}

func NewHandler(store Store, evaluator *Evaluator) *Handler {
	return &Handler{store: store, evaluator: evaluator}
}

// RegisterRoutes mounts rule administration endpoints on the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/rules", h.CreateRule)
	r.GET("/rules", h.ListRules)
	r.GET("/rules/:id", h.GetRule)
	r.PUT("/rules/:id", h.UpdateRule)
	r.DELETE("/rules/:id", h.DeleteRule)
}

type ruleRequest struct {
	EntityType string    `json:"entityType" binding:"required"`
	Name       string    `json:"name" binding:"required"`
	Priority   int       `json:"priority"`
	Active     *bool     `json:"active"`
	Condition  Condition `json:"condition" binding:"required"`
	Action     Action    `json:"action" binding:"required"`
}

// CreateRule handles POST /rules
func (h *Handler) CreateRule(c *gin.Context) {
	ctx := c.Request.Context()

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	now := time.Now().UTC()
	rule := &Rule{
		ID:         idgen.WithPrefix("rule_"),
		EntityType: req.EntityType,
		Name:       req.Name,
		Priority:   req.Priority,
		Active:     true,
		Condition:  req.Condition,
		Action:     req.Action,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := ValidateRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_rule",
			"message": err.Error(),
		})
		return
	}

	if err := h.store.Create(ctx, rule); err != nil {
		if errors.Is(err, ErrNameTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "name_taken",
				"message": "A rule with this name already exists for the entity type",
			})
			return
		}
		logging.L(ctx).Error("failed to create rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create rule",
		})
		return
	}

	h.evaluator.InvalidateCache(rule.EntityType)
	c.JSON(http.StatusCreated, rule)
}

// ListRules handles GET /rules?entityType=transfer
func (h *Handler) ListRules(c *gin.Context) {
	ctx := c.Request.Context()

	entityType := c.Query("entityType")
	if entityType == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_entity_type",
			"message": "entityType query parameter is required",
		})
		return
	}

	rules, err := h.store.List(ctx, entityType)
	if err != nil {
		logging.L(ctx).Error("failed to list rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list rules",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// GetRule handles GET /rules/:id
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "rule_not_found",
				"message": "No rule with this ID",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get rule",
		})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule handles PUT /rules/:id
func (h *Handler) UpdateRule(c *gin.Context) {
	ctx := c.Request.Context()

	existing, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "rule_not_found",
				"message": "No rule with this ID",
			})
			return
		}
		logging.L(ctx).Error("failed to get rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update rule",
		})
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	updated := &Rule{
		ID:         existing.ID,
		EntityType: existing.EntityType, // immutable once created
		Name:       req.Name,
		Priority:   req.Priority,
		Active:     existing.Active,
		Condition:  req.Condition,
		Action:     req.Action,
		CreatedAt:  existing.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	if err := ValidateRule(updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_rule",
			"message": err.Error(),
		})
		return
	}

	if err := h.store.Update(ctx, updated); err != nil {
		if errors.Is(err, ErrNameTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "name_taken",
				"message": "A rule with this name already exists for the entity type",
			})
			return
		}
		logging.L(ctx).Error("failed to update rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update rule",
		})
		return
	}

	h.evaluator.InvalidateCache(updated.EntityType)
	c.JSON(http.StatusOK, updated)
}

// DeleteRule handles DELETE /rules/:id
func (h *Handler) DeleteRule(c *gin.Context) {
	ctx := c.Request.Context()

	rule, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "rule_not_found",
				"message": "No rule with this ID",
			})
			return
		}
		logging.L(ctx).Error("failed to get rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to delete rule",
		})
		return
	}

	if err := h.store.Delete(ctx, rule.ID); err != nil {
		logging.L(ctx).Error("failed to delete rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to delete rule",
		})
		return
	}

	h.evaluator.InvalidateCache(rule.EntityType)
	c.JSON(http.StatusOK, gin.H{"deleted": rule.ID})
}
