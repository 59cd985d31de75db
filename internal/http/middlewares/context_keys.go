package middlewares

// gin context keys shared between middlewares and handlers
const (
	CtxRequestID = "ctx.request_id"

	ctxUserIDKey = "auth.userID"
	ctxEmailKey  = "auth.email"
	ctxRoleKey   = "auth.role"
)
