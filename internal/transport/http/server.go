package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "ragchat/internal/app"
	"ragchat/internal/bootstrap"
	"ragchat/internal/repository"
	"ragchat/internal/transport/http/handler"
	"ragchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	authHandler := handler.NewAuthHandler(authService)
	ragHandler := handler.NewRAGHandler(app.Engine, app.Conversations)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	ragGroup := v1.Group("/rag")
	ragGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	ragGroup.POST("/documents", ragHandler.IngestDocument)
	ragGroup.POST("/upload", ragHandler.UploadPDF)
	ragGroup.GET("/documents", ragHandler.ListDocuments)
	ragGroup.DELETE("/documents/:id", ragHandler.DeleteDocument)
	ragGroup.POST("/query", ragHandler.Query)
	ragGroup.POST("/conversations/query", ragHandler.ConversationQuery)
	ragGroup.GET("/conversations", ragHandler.ListConversations)
	ragGroup.GET("/conversations/:id/messages", ragHandler.GetConversationMessages)

	return router
}
