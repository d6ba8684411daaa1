package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"polyshadow/internal/models"
	"polyshadow/internal/pricefeed"
	"polyshadow/internal/repository"
)

type TradeHandler struct {
	Repo repository.Store
	Feed *pricefeed.Feed
}

func (h *TradeHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/trades")
	g.GET("", h.list)
	g.GET("/stats", h.stats)

	r.GET("/api/v1/portfolio", h.portfolio)
}

func (h *TradeHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	offset := intQuery(c, "offset", 0)

	params := repository.ListSimTradesParams{
		TargetAddress: strings.TrimSpace(c.Query("target")),
		Status:        strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		Limit:         limit,
		Offset:        offset,
	}
	if hours := intQuery(c, "hours", 0); hours > 0 {
		since := time.Now().Add(-time.Duration(hours) * time.Hour)
		params.Since = &since
	}

	items, err := h.Repo.ListSimTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, len(items)))
}

func (h *TradeHandler) stats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	stats, err := h.Repo.GetTradeStats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}

type portfolioPosition struct {
	models.SimTrade
	MarkPrice     *float64 `json:"mark_price,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
}

func (h *TradeHandler) portfolio(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	open, err := h.Repo.ListOpenSimTrades(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}

	positions := make([]portfolioPosition, 0, len(open))
	var totalUnrealized float64
	marked := 0
	for _, t := range open {
		pos := portfolioPosition{SimTrade: t}
		if h.Feed != nil {
			if q, ok := h.Feed.Mark(t.MarketID); ok {
				price := q.Price
				pos.MarkPrice = &price
			}
			if pnl, ok := h.Feed.UnrealizedPnL(t); ok {
				pos.UnrealizedPnL = &pnl
				totalUnrealized += pnl
				marked++
			}
		}
		positions = append(positions, pos)
	}

	Ok(c, positions, map[string]any{
		"open_positions":   len(positions),
		"marked_positions": marked,
		"unrealized_pnl":   totalUnrealized,
	})
}
