package v1

import "github.com/gin-gonic/gin"

// Handlers is implemented by the handlers package.
type Handlers interface {
	ListVehicles(c *gin.Context)
	GetStatus(c *gin.Context)
}

func RegisterHandlers(router *gin.RouterGroup, h Handlers) {
	router.GET("/vehicles", h.ListVehicles)
	router.GET("/status", h.GetStatus)
}
