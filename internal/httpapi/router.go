package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ideagen/backend/internal/chat"
	"github.com/ideagen/backend/internal/common"
	"github.com/ideagen/backend/internal/config"
	"github.com/ideagen/backend/internal/httpapi/handlers"
	"github.com/ideagen/backend/internal/httpapi/middleware"
	"github.com/ideagen/backend/internal/idea"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, sender chat.Sender, ideas *idea.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, chatSvc, sender, ideas)

	r.GET("/ping", h.Ping)

	// CRUD users register
	r.POST("/users", h.CreateUser)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	// Chat (JWT required)
	authGroup.POST("/chat/start", h.StartChat)
	authGroup.POST("/chat/sessions/:session_id/messages", h.SendMessage)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.GET("/chat/sessions/:session_id/messages", h.GetOlderMessages)
	authGroup.GET("/chat/ideas/summary", h.ListIdeaSummaries)
	return r
}
