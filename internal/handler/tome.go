package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tomevault/tomevault/internal/pkg/apperrors"
	"github.com/tomevault/tomevault/internal/service"
)

type TomeHandler struct {
	svc *service.TomeService
}

func NewTomeHandler(svc *service.TomeService) *TomeHandler {
	return &TomeHandler{svc: svc}
}

func (h *TomeHandler) Index(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}

	list, err := h.svc.List(c.Request.Context(), page, c.Request.URL.Path)
	if err != nil {
		c.Error(err)
		return
	}

	meta := gin.H{}
	if list.Pagination != nil {
		meta["pagination"] = list.Pagination
	} else {
		meta["total"] = list.Total
	}
	respond(c, http.StatusOK, list.Items, meta, "")
}

func (h *TomeHandler) Show(c *gin.Context) {
	tome, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, tome, resourceTimestamps(tome), "")
}

func (h *TomeHandler) Store(c *gin.Context) {
	var in service.TomeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewInvalidRequest("Malformed JSON payload."))
		return
	}

	tome, err := h.svc.Create(c.Request.Context(), &in)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusCreated, tome, resourceTimestamps(tome), "Tome created")
}

func (h *TomeHandler) Update(c *gin.Context) {
	var in service.TomeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewInvalidRequest("Malformed JSON payload."))
		return
	}

	tome, err := h.svc.Update(c.Request.Context(), c.Param("id"), &in)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, tome, resourceTimestamps(tome), "Tome updated")
}

func (h *TomeHandler) Destroy(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, nil, gin.H{}, "Tome deleted")
}

func resourceTimestamps(t *service.TomeDetail) gin.H {
	return gin.H{
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
}
