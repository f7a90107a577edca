package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tomevault/tomevault/internal/pkg/apperrors"
	"github.com/tomevault/tomevault/internal/service"
)

type SummaryHandler struct {
	svc *service.SummaryService
}

func NewSummaryHandler(svc *service.SummaryService) *SummaryHandler {
	return &SummaryHandler{svc: svc}
}

// Summary reports the trailing-window analytics. days defaults to 7 and
// must stay within 1..365.
func (h *SummaryHandler) Summary(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			c.Error(apperrors.NewValidation(map[string]string{
				"days": "The days parameter must be an integer between 1 and 365.",
			}))
			return
		}
		days = parsed
	}

	summary, err := h.svc.Summarize(c.Request.Context(), days)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	respond(c, http.StatusOK, summary, gin.H{}, "")
}
