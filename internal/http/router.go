package http

import (
	"log/slog"
	"time"

	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/http/handlers"
	"github.com/geocoder89/taskhub/internal/http/middlewares"
	"github.com/geocoder89/taskhub/internal/notifications"
	"github.com/geocoder89/taskhub/internal/oauth"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/geocoder89/taskhub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/taskhub/internal/auth"
	userdomain "github.com/geocoder89/taskhub/internal/domain/user"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type Deps struct {
	Cfg    config.Config
	Log    *slog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client // nil disables the shared rate limiter
	Mailer notifications.Mailer
}

func NewRouter(deps Deps) *gin.Engine {
	cfg := deps.Cfg

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("taskhub-api"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(prom.GinHandleMiddleware())

	// operational endpoints

	healthHandler := handlers.NewHealthHandler(deps.Pool)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// wire up repositories

	usersRepo := postgres.NewUsersRepo(deps.Pool, prom)
	codesRepo := postgres.NewVerificationCodesRepo(deps.Pool, prom)
	sessionsRepo := postgres.NewRefreshTokensRepo(deps.Pool, prom)
	projectsRepo := postgres.NewProjectsRepo(deps.Pool, prom)
	tasksRepo := postgres.NewTasksRepo(deps.Pool, prom)
	jobsRepo := postgres.NewJobsRepo(deps.Pool, prom)

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())

	providers := handlers.OAuthProviders{
		Google: oauth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL),
		Github: oauth.NewGithub(cfg.GithubClientID, cfg.GithubClientSecret, cfg.GithubCallbackURL),
	}

	// handlers

	authHandler := handlers.NewAuthHandler(usersRepo, codesRepo, sessionsRepo, jwtManager, deps.Mailer, jobsRepo, providers, cfg)
	usersHandler := handlers.NewUsersHandler(usersRepo)
	projectsHandler := handlers.NewProjectsHandler(projectsRepo, deps.Mailer, jobsRepo, cfg)
	tasksHandler := handlers.NewTasksHandler(tasksRepo, projectsRepo)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)

	authMW := middlewares.NewAuthMiddleware(jwtManager)

	// the auth endpoints get a tighter limit than the rest of the API;
	// with redis the counters hold across replicas, otherwise fall back
	// to the per-process limiter
	var authLimiter gin.HandlerFunc
	var apiLimiter gin.HandlerFunc

	if deps.Redis != nil {
		authLimiter = middlewares.NewRedisRateLimiter(deps.Redis, 10, time.Minute).RateLimiterMiddleware(middlewares.KeyByIP)
		apiLimiter = middlewares.NewRedisRateLimiter(deps.Redis, 120, time.Minute).RateLimiterMiddleware(middlewares.KeyByUserOrIP)
	} else {
		authLimiter = middlewares.NewRateLimiter(10, time.Minute).RateLimiterMiddleware(middlewares.KeyByIP)
		apiLimiter = middlewares.NewRateLimiter(120, time.Minute).RateLimiterMiddleware(middlewares.KeyByUserOrIP)
	}

	api := r.Group("/api")

	// public auth surface

	authGroup := api.Group("/auth")
	authGroup.Use(authLimiter)
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/register-manager", authHandler.RegisterManager)
		authGroup.POST("/verify", authHandler.VerifyEmail)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.POST("/forgot-password", authHandler.ForgotPassword)
		authGroup.POST("/reset-password", authHandler.ResetPassword)

		authGroup.GET("/google", authHandler.GoogleLogin)
		authGroup.GET("/google/callback", authHandler.GoogleCallback)
		authGroup.GET("/github", authHandler.GithubLogin)
		authGroup.GET("/github/callback", authHandler.GithubCallback)
	}

	// everything below requires a valid access token

	roleUser := string(userdomain.RoleUser)
	roleManager := string(userdomain.RoleManager)

	protected := api.Group("")
	protected.Use(authMW.RequireAuth(), apiLimiter)

	protected.POST("/auth/change-password", authHandler.ChangePassword)

	usersGroup := protected.Group("/users")
	{
		usersGroup.GET("/count", authMW.RequireRole(roleManager), usersHandler.Count)
		usersGroup.GET("", authMW.RequireRole(roleManager), usersHandler.ListEmployees)
		usersGroup.PATCH("/blocked/:id", authMW.RequireRole(roleManager), usersHandler.ToggleBlocked)
		usersGroup.GET("/:id", usersHandler.GetByID)
		usersGroup.PATCH("/:id", usersHandler.UpdateProfile)
	}

	projectsGroup := protected.Group("/projects")
	{
		projectsGroup.POST("/create", authMW.RequireRole(roleManager), projectsHandler.Create)
		projectsGroup.GET("", authMW.RequireRole(roleManager), projectsHandler.ListOwned)
		projectsGroup.GET("/count", authMW.RequireRole(roleManager), projectsHandler.Count)
		projectsGroup.GET("/assigned", authMW.RequireRole(roleUser), projectsHandler.ListInvited)
		projectsGroup.GET("/manager/:managerId", authMW.RequireRole(roleManager), projectsHandler.ListOwnedBy)
		projectsGroup.GET("/accept-invite/:projectId", projectsHandler.AcceptInvite)
		projectsGroup.PATCH("/update/:id", authMW.RequireRole(roleManager), projectsHandler.Update)
		projectsGroup.DELETE("/delete/:id", authMW.RequireRole(roleManager), projectsHandler.Delete)
		projectsGroup.POST("/invite/:id", authMW.RequireRole(roleManager), projectsHandler.Invite)
		projectsGroup.GET("/:id", authMW.RequireRole(roleManager), projectsHandler.GetByID)
	}

	tasksGroup := protected.Group("/tasks")
	{
		tasksGroup.POST("/create-task/:projectId", authMW.RequireRole(roleManager), tasksHandler.Create)
		tasksGroup.PATCH("/update-task/:projectId/:taskId", authMW.RequireRole(roleManager), tasksHandler.Update)
		tasksGroup.DELETE("/delete-task/:projectId/:taskId", authMW.RequireRole(roleManager), tasksHandler.Delete)
		tasksGroup.PATCH("/assign-task/:projectId/:taskId", authMW.RequireRole(roleManager), tasksHandler.Assign)
		tasksGroup.GET("/project-tasks/:projectId", authMW.RequireRole(roleManager), tasksHandler.ListByProject)
		tasksGroup.PATCH("/change-status/:taskId", authMW.RequireRole(roleUser), tasksHandler.ChangeStatus)
		tasksGroup.GET("/assigned", authMW.RequireRole(roleUser), tasksHandler.ListAssigned)
		tasksGroup.GET("/assigned/count", authMW.RequireRole(roleUser), tasksHandler.CountAssigned)
		tasksGroup.GET("/get-assigned-tasks/:projectId", authMW.RequireRole(roleUser), tasksHandler.ListAssigned)
		tasksGroup.GET("/count/:projectId", authMW.RequireRole(roleUser), tasksHandler.CountAssigned)
		tasksGroup.GET("/:taskId", tasksHandler.GetByID)
	}

	adminGroup := protected.Group("/admin")
	adminGroup.Use(authMW.RequireRole(roleManager))
	{
		adminGroup.GET("/jobs", adminJobsHandler.List)
		adminGroup.GET("/jobs/:id", adminJobsHandler.GetByID)
		adminGroup.POST("/jobs/:id/retry", adminJobsHandler.Retry)
		adminGroup.POST("/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)
	}

	if deps.Log != nil {
		deps.Log.Info("router configured", "routes", len(r.Routes()))
	}

	return r
}
