package handlers

import (
	"github.com/geocoder89/taskhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// thin wrappers so handlers never touch the raw context keys

func userIDFrom(ctx *gin.Context) (string, bool) {
	return middlewares.UserIDFromContext(ctx)
}

func emailFrom(ctx *gin.Context) (string, bool) {
	return middlewares.EmailFromContext(ctx)
}

func roleFrom(ctx *gin.Context) (string, bool) {
	return middlewares.RoleFromContext(ctx)
}
