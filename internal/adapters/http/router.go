package http

import (
	"context"
	"net/http"

	"github.com/dkeye/LiveClass/internal/adapters/signal"
	"github.com/dkeye/LiveClass/internal/app"
	"github.com/dkeye/LiveClass/internal/config"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type sessionInfo struct {
	SessionID  domain.SessionID `json:"sessionId"`
	HostPeerID domain.PeerID    `json:"hostPeerId"`
	HostOnline bool             `json:"hostOnline"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *app.Registry, catalog *domain.Catalog) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LiveClassSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(reg, signal.NewBindLimiter(cfg.BindLimit, cfg.BindWindow), cfg.ReadLimit, cfg.PingPeriod)
	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The last session looked up is remembered in the cookie session so a
	// reloading client can rejoin without asking again.
	api.GET("/sessions/:id", func(c *gin.Context) {
		id := domain.SessionID(c.Param("id"))
		host := domain.HostPeerID(id)

		s := sessions.Default(c)
		s.Set("session", string(id))
		if err := s.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
		}
		c.JSON(http.StatusOK, sessionInfo{SessionID: id, HostPeerID: host, HostOnline: reg.Online(host)})
	})

	api.GET("/me/session", func(c *gin.Context) {
		last, _ := sessions.Default(c).Get("session").(string)
		if last == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": last})
	})

	api.GET("/lessons", func(c *gin.Context) {
		c.JSON(http.StatusOK, catalog.List())
	})

	api.GET("/peers/count", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"count": reg.Count()})
	})

	api.GET("/ws/peer", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws peer endpoint hit")
		ctrl.HandlePeer(ctx, c)
	})

	return r
}
