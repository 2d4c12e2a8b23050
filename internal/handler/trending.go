package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/clipbeat/api/internal/model"
	"github.com/clipbeat/api/internal/service"
	"github.com/clipbeat/api/pkg/response"
)

const defaultTrendingLimit = 20

type TrendingHandler struct {
	trending *service.TrendingService
}

func NewTrendingHandler(trending *service.TrendingService) *TrendingHandler {
	return &TrendingHandler{trending: trending}
}

// Top handles GET /api/trending
func (h *TrendingHandler) Top(c *fiber.Ctx) error {
	limit := defaultTrendingLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := h.trending.Top(c.Context(), limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if entries == nil {
		entries = []*model.TrendingEntry{}
	}
	return response.OK(c, fiber.Map{"songs": entries})
}
