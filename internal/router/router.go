package router

import (
	"fmt"
	"strings"

	"github.com/referral-next/internal/cache"
	"github.com/referral-next/internal/config"
	adminhandlers "github.com/referral-next/internal/http/handlers/admin"
	publichandlers "github.com/referral-next/internal/http/handlers/public"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "rf"
	}
	redisClient := cache.Client()
	loginRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:login", redisPrefix),
		WindowSeconds: cfg.Security.LoginRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.LoginRateLimit.MaxAttempts,
	}
	adminLoginRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:admin_login", redisPrefix),
		WindowSeconds: cfg.Security.LoginRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.LoginRateLimit.MaxAttempts,
	}
	clickRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:click", redisPrefix),
		WindowSeconds: cfg.Security.ClickRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.ClickRateLimit.MaxRequests,
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		public := apiV1.Group("/public")
		{
			public.GET("/captcha/image", publicHandler.GetCaptcha)
			public.GET("/referral/codes/:code", publicHandler.GetReferralCodeInfo)
			public.POST("/referral/clicks", RateLimitMiddleware(redisClient, clickRule, KeyByIP), publicHandler.TrackReferralClick)
		}

		// 用户认证接口
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", RateLimitMiddleware(redisClient, loginRule, KeyByIP), publicHandler.UserRegister)
			auth.POST("/login", RateLimitMiddleware(redisClient, loginRule, KeyByIPAndJSONField("email")), publicHandler.UserLogin)
		}

		// 用户接口（需鉴权）
		user := apiV1.Group("")
		user.Use(UserJWTAuthMiddleware(cfg.UserJWT.SecretKey, c.UserRepo))
		{
			user.GET("/me", publicHandler.UserMe)
			user.GET("/me/referral", publicHandler.GetReferralDashboard)
			user.POST("/me/referral", publicHandler.OpenReferral)
		}

		// 管理员接口
		admin := apiV1.Group("/admin")
		{
			admin.POST("/login", RateLimitMiddleware(redisClient, adminLoginRule, KeyByIP), adminHandler.Login)

			authorized := admin.Use(JWTAuthMiddleware(cfg.JWT.SecretKey, c.AdminRepo), AdminRBACMiddleware(c.AuthzService))
			{
				authorized.GET("/me", adminHandler.Me)
				authorized.PUT("/password", adminHandler.ChangePassword)

				// 推荐码管理
				authorized.GET("/referral/codes", adminHandler.ListReferralCodes)
				authorized.POST("/referral/codes", adminHandler.CreateReferralCode)
				authorized.PATCH("/referral/codes/:id/active", adminHandler.UpdateReferralCodeActive)

				// 转化与奖励
				authorized.GET("/referral/conversions", adminHandler.ListReferralConversions)
				authorized.POST("/referral/conversions", adminHandler.RecordConversion)
				authorized.POST("/referral/conversions/:id/pay", adminHandler.MarkRewardPaid)
				authorized.POST("/referral/rewards/process", adminHandler.ProcessRewards)

				// 点击与统计
				authorized.GET("/referral/clicks", adminHandler.ListReferralClicks)
				authorized.GET("/referral/stats", adminHandler.GetReferralProgramStats)

				// 推荐计划配置
				authorized.GET("/settings/referral", adminHandler.GetReferralSettings)
				authorized.PUT("/settings/referral", adminHandler.UpdateReferralSettings)

				// 权限管理
				authorized.GET("/authz/roles", adminHandler.ListAuthzRoles)
				authorized.GET("/authz/admins/:id/roles", adminHandler.GetAuthzAdminRoles)
				authorized.PUT("/authz/admins/:id/roles", adminHandler.SetAuthzAdminRoles)
			}
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
