package approuters

import (
	"Parley/internal/configuration"
	"Parley/internal/handler"

	"github.com/gin-gonic/gin"
)

func AuthRouters(router *gin.Engine, container *configuration.Container) {
	requireSession := handler.RequireSession(container.Directory, container.Repos.Users, container.Logger)

	authRoute := router.Group("/api/auth")
	{
		authRoute.POST("/register", container.AuthHandler.Register)
		authRoute.POST("/login", container.AuthHandler.Login)
		authRoute.POST("/federated", container.AuthHandler.LoginFederated)
		authRoute.POST("/logout", requireSession, container.AuthHandler.Logout)
	}
}

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chats := container.ChatHandler

	api := router.Group("/api")
	api.Use(handler.RequireSession(container.Directory, container.Repos.Users, container.Logger))

	userRoute := api.Group("/users")
	{
		userRoute.GET("/search", chats.SearchUsers)
		userRoute.GET("/me", chats.Me)
		userRoute.PUT("/me/status", chats.ChangeStatus)
		userRoute.PUT("/me/avatar", chats.ChangeAvatar)
	}

	chatRoute := api.Group("/chats")
	{
		chatRoute.GET("", chats.ListChats)
		chatRoute.POST("", chats.AddContact)
		chatRoute.GET("/:id/messages", chats.GetMessages)
		chatRoute.POST("/:id/pin", chats.TogglePin)
		chatRoute.POST("/:id/archive", chats.ToggleArchive)
		chatRoute.POST("/:id/clear", chats.ClearChat)
		chatRoute.POST("/:id/open", chats.OpenChat)
		chatRoute.POST("/:id/block", chats.Block)
		chatRoute.POST("/:id/unblock", chats.Unblock)
	}
}
