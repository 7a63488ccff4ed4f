package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/indicator-gateway/internal/middleware"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type APIKeyHandler struct {
	service *service.APIKeyService
}

func NewAPIKeyHandler(service *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// Handles POST /admin/keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		CreatedBy string `json:"created_by"`
		Tier      string `json:"tier" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.CreatedBy == "" {
		req.CreatedBy = c.GetString("email")
	}

	tier := models.Tier(req.Tier)
	if tier.Assignable() && !middleware.Principal(c).CanProvision(tier) {
		respondOutOfScope(c)
		return
	}

	ctx := c.Request.Context()
	key, apiKey, err := h.service.Create(ctx, req.Name, req.CreatedBy, tier)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"api_key": apiKey,
		"message": "Save this key - it won't be shown again",
	})
}

// Handles GET /admin/keys
func (h *APIKeyHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	keys, err := h.service.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, keys)
}

// Handles GET /admin/keys/:id
func (h *APIKeyHandler) Get(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	apiKey, err := h.service.Get(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, apiKey)
}

// Handles PATCH /admin/keys/:id
func (h *APIKeyHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Name     *string `json:"name"`
		Tier     *string `json:"tier"`
		IsActive *bool   `json:"is_active"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := service.UpdateKeyRequest{
		Name:     req.Name,
		IsActive: req.IsActive,
	}
	if req.Tier != nil {
		tier := models.Tier(*req.Tier)
		if tier.Assignable() && !middleware.Principal(c).CanProvision(tier) {
			respondOutOfScope(c)
			return
		}
		update.Tier = &tier
	}

	ctx := c.Request.Context()
	if !h.inScope(c, id) {
		return
	}
	if err := h.service.Update(ctx, id, update); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key updated successfully"})
}

// Handles DELETE /admin/keys/:id
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	if !h.inScope(c, id) {
		return
	}
	if err := h.service.Delete(ctx, id); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted successfully"})
}

// inScope rejects changes to a key whose current tier the caller could not
// have issued. It writes the response when it returns false.
func (h *APIKeyHandler) inScope(c *gin.Context, id string) bool {
	p := middleware.Principal(c)
	if p.Role == models.RoleAdmin {
		return true
	}

	existing, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return false
	}
	if !p.CanProvision(existing.Tier) {
		respondOutOfScope(c)
		return false
	}
	return true
}

func respondOutOfScope(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "Tier is outside your provisioning scope"})
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
	case errors.Is(err, service.ErrInvalidTier), errors.Is(err, service.ErrNothingToSet):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
