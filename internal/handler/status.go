package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"polyshadow/internal/engine"
	"polyshadow/internal/profiler"
	"polyshadow/internal/risk"
	"polyshadow/internal/shadow"
)

type StatusHandler struct {
	Engine   *engine.Engine
	Profiles *profiler.Profiler
	Risk     *risk.Manager
	Tracker  *shadow.Tracker
}

func (h *StatusHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/status", h.status)
	r.GET("/api/v1/profiles", h.profiles)
	r.GET("/api/v1/profiles/:address", h.profile)
	r.GET("/api/v1/shadow", h.shadowPool)
	r.GET("/api/v1/risk/signals", h.signals)
}

func (h *StatusHandler) status(c *gin.Context) {
	data := gin.H{"time": time.Now().UTC()}
	if h.Engine != nil {
		data["targets"] = h.Engine.Targets()
		if started := h.Engine.Started(); !started.IsZero() {
			data["uptime"] = time.Since(started).String()
		}
	}
	if h.Tracker != nil {
		data["shadow_candidates"] = len(h.Tracker.Cards())
	}
	Ok(c, data, nil)
}

func (h *StatusHandler) profiles(c *gin.Context) {
	if h.Engine == nil || h.Profiles == nil {
		Error(c, http.StatusInternalServerError, "profiler unavailable", nil)
		return
	}
	out := make([]*profiler.BehaviorProfile, 0)
	for _, target := range h.Engine.Targets() {
		if prof, ok := h.Profiles.Cached(target.Address); ok {
			out = append(out, prof)
		}
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func (h *StatusHandler) profile(c *gin.Context) {
	if h.Profiles == nil {
		Error(c, http.StatusInternalServerError, "profiler unavailable", nil)
		return
	}
	address := c.Param("address")
	prof, err := h.Profiles.Profile(c.Request.Context(), address)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, prof, nil)
}

func (h *StatusHandler) shadowPool(c *gin.Context) {
	if h.Tracker == nil {
		Error(c, http.StatusInternalServerError, "shadow tracker unavailable", nil)
		return
	}
	cards := h.Tracker.Cards()
	type cardView struct {
		*shadow.Scorecard
		ShadowScore    float64 `json:"shadow_score"`
		VirtualWinRate float64 `json:"virtual_win_rate"`
	}
	out := make([]cardView, 0, len(cards))
	for _, card := range cards {
		out = append(out, cardView{
			Scorecard:      card,
			ShadowScore:    card.ShadowScore(),
			VirtualWinRate: card.VirtualWinRate(),
		})
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func (h *StatusHandler) signals(c *gin.Context) {
	if h.Risk == nil {
		Error(c, http.StatusInternalServerError, "risk manager unavailable", nil)
		return
	}
	Ok(c, h.Risk.Snapshot(), nil)
}
