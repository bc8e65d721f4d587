package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/quest"
	mw "github.com/kasuganosora/questkeeper/middleware"
	"go.uber.org/zap"
)

// AccountHandler exposes the quest service to the game server.
type AccountHandler struct {
	svc    *quest.Service
	logger *zap.Logger
}

func NewAccountHandler(svc *quest.Service, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

// Register mounts the account routes on g.
func (h *AccountHandler) Register(g *gin.RouterGroup) {
	acc := g.Group("/accounts/:uuid")
	acc.GET("", h.Get)
	acc.GET("/progress", h.Progress)
	acc.GET("/progress/:quest", h.QuestProgress)
	acc.GET("/messages", h.Messages)
	acc.POST("/join", h.Join)
	acc.POST("/leave", h.Leave)
	acc.POST("/quests/:quest/start", h.StartQuest)
	acc.POST("/quests/:quest/cancel", h.CancelQuest)
	acc.POST("/quests/:quest/stages/:stage/signal", h.Signal)
	acc.POST("/pools/:pool/give", h.GivePoolQuest)
}

func identityParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid account uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func intParam(c *gin.Context, name string) (int, bool) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " id"})
		return 0, false
	}
	return n, true
}

// Join loads the account of a connecting player.
// POST /api/accounts/:uuid/join
func (h *AccountHandler) Join(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	view, err := h.svc.AccountJoined(c.Request.Context(), id, req.Name)
	if err != nil {
		mw.RequestLogger(c, h.logger).Warn("account join failed",
			zap.String("account", id.String()), zap.Error(err))
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Leave unloads the account of a disconnecting player.
// POST /api/accounts/:uuid/leave
func (h *AccountHandler) Leave(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	if err := h.svc.AccountLeft(c.Request.Context(), id); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Get returns the live state of a loaded account.
// GET /api/accounts/:uuid
func (h *AccountHandler) Get(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	view, err := h.svc.Account(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Progress returns the description lines from the read model.
// GET /api/accounts/:uuid/progress
func (h *AccountHandler) Progress(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	lines, err := h.svc.Progress(ctx, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	name, online, err := h.svc.Player(ctx, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"player": name, "online": online, "progress": lines})
}

// QuestProgress returns the description line of one quest from the read model.
// GET /api/accounts/:uuid/progress/:quest
func (h *AccountHandler) QuestProgress(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	questID, ok := intParam(c, "quest")
	if !ok {
		return
	}
	line, found, err := h.svc.QuestProgress(c.Request.Context(), id, questID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no progress for quest"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quest_id": questID, "line": line})
}

// Messages drains the notifications queued for a connected player.
// GET /api/accounts/:uuid/messages?max=N
func (h *AccountHandler) Messages(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	sess := h.svc.Sessions().Get(id)
	if sess == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	max, _ := strconv.Atoi(c.DefaultQuery("max", "50"))
	packets := sess.Poll(max)
	c.JSON(http.StatusOK, gin.H{"messages": packets, "count": len(packets)})
}

// StartQuest starts a quest.
// POST /api/accounts/:uuid/quests/:quest/start
func (h *AccountHandler) StartQuest(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	questID, ok := intParam(c, "quest")
	if !ok {
		return
	}
	if err := h.svc.StartQuest(c.Request.Context(), id, questID); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// CancelQuest cancels a running quest.
// POST /api/accounts/:uuid/quests/:quest/cancel
func (h *AccountHandler) CancelQuest(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	questID, ok := intParam(c, "quest")
	if !ok {
		return
	}
	if err := h.svc.CancelQuest(c.Request.Context(), id, questID); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Signal completes a stage. The stage is given as "branch:index" or "branch:E<index>".
// POST /api/accounts/:uuid/quests/:quest/stages/:stage/signal
func (h *AccountHandler) Signal(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	questID, ok := intParam(c, "quest")
	if !ok {
		return
	}
	ref, err := quest.ParseStageRef(c.Param("stage"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.StageSignalled(c.Request.Context(), id, questID, ref); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GivePoolQuest starts the next quest of a pool.
// POST /api/accounts/:uuid/pools/:pool/give
func (h *AccountHandler) GivePoolQuest(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	poolID, ok := intParam(c, "pool")
	if !ok {
		return
	}
	questID, err := h.svc.GivePoolQuest(c.Request.Context(), id, poolID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quest_id": questID})
}
