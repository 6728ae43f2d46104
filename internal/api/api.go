// Package api serves the read-only JSON API over players, games and
// tournaments.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/stats"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/tournament"
)

// Stats is the subset of the statistics engine the API reads.
type Stats interface {
	ListPlayers(ctx context.Context) ([]store.Player, error)
	LifetimeStats(ctx context.Context, playerID string) (*stats.Lifetime, error)
	DailyROIHistory(ctx context.Context, playerID string) ([]stats.DailyROI, error)
	PlayerActions(ctx context.Context, playerID string) ([]store.PlayerAction, error)
}

// Games is the subset of the ledger engine the API reads.
type Games interface {
	Summarize(ctx context.Context, gameID string) (*ledger.Summary, error)
	SummarizeRecent(ctx context.Context, n int) (*ledger.RecentSummary, error)
}

// Tournaments is the subset of the tournament engine the API reads.
type Tournaments interface {
	List(ctx context.Context) ([]tournament.Overview, error)
	Summary(ctx context.Context) (*tournament.Detail, error)
	Get(ctx context.Context, tournamentID string) (*tournament.Detail, error)
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the /api routes.
type Handler struct {
	stats       Stats
	games       Games
	tournaments Tournaments
	logger      *slog.Logger

	users  *expirable.LRU[string, []store.Player]
	player *expirable.LRU[string, any]
}

// NewHandler returns a Handler caching the player directory for
// cfg.UsersCacheTTL and per-player statistics for cfg.StatsCacheTTL.
func NewHandler(cfg config.APIConfig, s Stats, g Games, t Tournaments, logger *slog.Logger) *Handler {
	return &Handler{
		stats:       s,
		games:       g,
		tournaments: t,
		logger:      logger,
		users:       expirable.NewLRU[string, []store.Player](1, nil, cfg.UsersCacheTTL),
		player:      expirable.NewLRU[string, any](cfg.CacheSize, nil, cfg.StatsCacheTTL),
	}
}

// NewRouter builds the gin engine with CORS, recovery and request logging.
// Each register function mounts its routes on the root group.
func NewRouter(cfg config.APIConfig, logger *slog.Logger, register ...func(gin.IRouter)) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))
	for _, fn := range register {
		fn(r)
	}
	return r
}

// Register mounts the API routes under /api.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.GET("/users", h.ListUsers)

		players := api.Group("/stats/:player_id")
		players.GET("", h.PlayerStats)
		players.GET("/roi", h.PlayerROI)
		players.GET("/actions", h.PlayerActions)

		games := api.Group("/games")
		games.GET("/recent", h.RecentGames)
		games.GET("/:game_id", h.GetGame)

		tournaments := api.Group("/tournaments")
		tournaments.GET("", h.ListTournaments)
		tournaments.GET("/current", h.CurrentTournament)
		tournaments.GET("/:tournament_id", h.GetTournament)
	}
}

// ListUsers returns every player with at least one buy-in or cash-out.
func (h *Handler) ListUsers(c *gin.Context) {
	if players, ok := h.users.Get("all"); ok {
		c.JSON(http.StatusOK, players)
		return
	}
	players, err := h.stats.ListPlayers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if players == nil {
		players = []store.Player{}
	}
	h.users.Add("all", players)
	c.JSON(http.StatusOK, players)
}

// PlayerStats returns lifetime statistics. Players who never played are
// reported as not found.
func (h *Handler) PlayerStats(c *gin.Context) {
	h.cached(c, "lifetime", func(ctx context.Context, id string) (any, error) {
		l, err := h.stats.LifetimeStats(ctx, id)
		if err != nil {
			return nil, err
		}
		if l.GamesPlayed == 0 {
			return nil, store.ErrNotFound
		}
		return l, nil
	})
}

// PlayerROI returns the daily cumulative ROI history.
func (h *Handler) PlayerROI(c *gin.Context) {
	h.cached(c, "roi", func(ctx context.Context, id string) (any, error) {
		return h.stats.DailyROIHistory(ctx, id)
	})
}

// PlayerActions returns the buy-in and cash-out history.
func (h *Handler) PlayerActions(c *gin.Context) {
	h.cached(c, "actions", func(ctx context.Context, id string) (any, error) {
		actions, err := h.stats.PlayerActions(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(actions) == 0 {
			return nil, store.ErrNotFound
		}
		return actions, nil
	})
}

// RecentGames summarizes the n most recent games. n defaults to the
// configured number.
func (h *Handler) RecentGames(c *gin.Context) {
	n := 0
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "n must be a positive integer"})
			return
		}
		n = v
	}
	summary, err := h.games.SummarizeRecent(c.Request.Context(), n)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetGame summarizes one game.
func (h *Handler) GetGame(c *gin.Context) {
	summary, err := h.games.Summarize(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListTournaments returns every tournament, newest first.
func (h *Handler) ListTournaments(c *gin.Context) {
	list, err := h.tournaments.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CurrentTournament returns the open tournament, or the latest one.
func (h *Handler) CurrentTournament(c *gin.Context) {
	d, err := h.tournaments.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetTournament returns one tournament with every participant.
func (h *Handler) GetTournament(c *gin.Context) {
	d, err := h.tournaments.Get(c.Request.Context(), c.Param("tournament_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// cached answers a per-player route from the stats cache, filling it with
// load on a miss. Errors are never cached.
func (h *Handler) cached(c *gin.Context, kind string, load func(ctx context.Context, playerID string) (any, error)) {
	id := c.Param("player_id")
	key := kind + ":" + id
	if v, ok := h.player.Get(key); ok {
		c.JSON(http.StatusOK, v)
		return
	}
	v, err := load(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.player.Add(key, v)
	c.JSON(http.StatusOK, v)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, tournament.ErrNoActiveTournament):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		h.logger.ErrorContext(c.Request.Context(), "api request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugContext(c.Request.Context(), "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
