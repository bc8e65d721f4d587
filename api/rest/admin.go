package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes must be guarded by middleware.AdminKey.
type AdminHandler struct {
	svc    *quest.Service
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

func NewAdminHandler(svc *quest.Service, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, sched: sched, logger: logger}
}

// Register mounts the admin routes on g.
func (h *AdminHandler) Register(g *gin.RouterGroup) {
	g.GET("/metrics", h.Metrics)
	g.GET("/players", h.ListPlayers)
	g.GET("/scheduler", h.ListSchedulerTasks)
	g.GET("/quests", h.ListQuests)
	g.POST("/save", h.Save)
	g.POST("/broadcast", h.Broadcast)
	g.POST("/kick/:uuid", h.Kick)
	g.GET("/events", h.Events)
	g.DELETE("/quests/:id", h.RemoveQuest)
	g.DELETE("/pools/:id", h.RemovePool)
}

// Metrics returns a summary of the service state.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	rt := h.svc.Runtime()
	c.JSON(http.StatusOK, gin.H{
		"online_players":  h.svc.Sessions().Count(),
		"cached_accounts": rt.Cache().Len(),
		"pending_rewards": rt.BusyCount(),
		"quests":          len(h.svc.Registry().Quests()),
		"pools":           len(h.svc.Registry().Pools()),
		"scheduler_tasks": len(h.sched.ListTickers()) + len(h.sched.ListDelays()),
	})
}

// ListPlayers returns the connected players, optionally filtered by exact name.
// GET /api/admin/players?name=
func (h *AdminHandler) ListPlayers(c *gin.Context) {
	sessions := h.svc.Sessions().All()
	if name := c.Query("name"); name != "" {
		sessions = sessions[:0]
		if s := h.svc.Sessions().GetByName(name); s != nil {
			sessions = append(sessions, s)
		}
	}
	type playerInfo struct {
		Identity uuid.UUID `json:"identity"`
		Name     string    `json:"name"`
		JoinedAt int64     `json:"joined_at"`
	}
	result := make([]playerInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, playerInfo{Identity: s.Identity(), Name: s.Name(), JoinedAt: s.JoinedAt().UnixMilli()})
	}
	c.JSON(http.StatusOK, gin.H{"players": result, "count": len(result)})
}

// ListSchedulerTasks returns the registered tickers and pending delays.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tickers": h.sched.ListTickers(), "delays": h.sched.ListDelays()})
}

// ListQuests returns the loaded quest and pool definitions.
// GET /api/admin/quests
func (h *AdminHandler) ListQuests(c *gin.Context) {
	type questInfo struct {
		ID         int    `json:"id"`
		Name       string `json:"name"`
		Branches   int    `json:"branches"`
		Repeatable bool   `json:"repeatable"`
		Pool       int    `json:"pool,omitempty"`
	}
	type poolInfo struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Quests []int  `json:"quests"`
	}
	reg := h.svc.Registry()
	quests := make([]questInfo, 0)
	for _, q := range reg.Quests() {
		qi := questInfo{ID: q.ID(), Name: q.Name(), Branches: len(q.Branches()), Repeatable: q.Repeatable()}
		if p := q.Pool(); p != nil {
			qi.Pool = p.ID()
		}
		quests = append(quests, qi)
	}
	pools := make([]poolInfo, 0)
	for _, p := range reg.Pools() {
		pools = append(pools, poolInfo{ID: p.ID(), Name: p.Name(), Quests: p.Quests()})
	}
	c.JSON(http.StatusOK, gin.H{"quests": quests, "pools": pools})
}

// Save flushes every cached account.
// POST /api/admin/save
func (h *AdminHandler) Save(c *gin.Context) {
	n, err := h.svc.SaveAll(c.Request.Context())
	if err != nil {
		h.logger.Error("admin save failed", zap.Int("accounts", n), zap.Error(err))
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": n})
}

// Broadcast sends a system message to every connected player.
// POST /api/admin/broadcast
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=512"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	h.svc.Sessions().BroadcastSystemMessage(req.Message)
	c.JSON(http.StatusOK, gin.H{"ok": true, "recipients": h.svc.Sessions().Count()})
}

// Kick unloads a connected player.
// POST /api/admin/kick/:uuid
func (h *AdminHandler) Kick(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	if err := h.svc.AccountLeft(c.Request.Context(), id); err != nil {
		abortWith(c, err)
		return
	}
	h.logger.Info("admin kicked player", zap.String("account", id.String()))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RemoveQuest deletes a quest and all of its stored progress.
// DELETE /api/admin/quests/:id
func (h *AdminHandler) RemoveQuest(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	n, err := h.svc.QuestRemoved(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "deleted_entries": n})
}

// RemovePool deletes a pool and all of its stored entries.
// DELETE /api/admin/pools/:id
func (h *AdminHandler) RemovePool(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	n, err := h.svc.PoolRemoved(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "deleted_entries": n})
}
