package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	_ "campuspay/docs"
	"campuspay/internal/config"
	"campuspay/internal/database"
	"campuspay/internal/handlers"
	"campuspay/internal/logger"
	"campuspay/internal/middleware"
	"campuspay/internal/pdf"
	"campuspay/internal/repositories"
	"campuspay/internal/routes"
	"campuspay/internal/services"
	"campuspay/internal/utils"
)

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	router  *gin.Engine
	otp     services.OTPService
	auth    services.AuthService
	limiter *middleware.IPRateLimiter
	closers []func(context.Context) error
}

// Run is the process entrypoint: it exits on startup errors and returns after
// SIGINT/SIGTERM once the server has drained.
func Run() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	if err := a.Serve(ctx); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func New(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: zl}

	userRepo, otpRepo, err := a.buildStores(ctx)
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	sender, signupNotifier, err := a.buildNotifiers()
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	a.otp = services.NewOTPService(otpRepo, sender, services.OTPOptions{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, zl)
	creds := services.NewCredentialService(userRepo)
	jwt := middleware.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTTL)
	auth := services.NewAuthService(a.otp, creds, jwt, signupNotifier, zl)
	a.auth = auth

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(zl.Named("http")))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.limiter = middleware.NewIPRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, zl.Named("ratelimit"))
	routes.SetupRoutes(router, handlers.NewAuthHandler(auth, zl), jwt, a.limiter)
	a.router = router
	return a, nil
}

func (a *App) Router() *gin.Engine { return a.router }

// buildStores opens only the backends named by database.driver and otp.store.
func (a *App) buildStores(ctx context.Context) (repositories.UserRepository, repositories.OTPRepository, error) {
	var (
		pg    *sql.DB
		mdb   *mongo.Database
		users repositories.UserRepository
		otps  repositories.OTPRepository
	)

	postgres := func() (*sql.DB, error) {
		if pg != nil {
			return pg, nil
		}
		db, err := database.ConnectPostgres(ctx, a.cfg.Database.DSN, a.log)
		if err != nil {
			return nil, err
		}
		if err := repositories.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		pg = db
		return pg, nil
	}
	mongoDB := func() (*mongo.Database, error) {
		if mdb != nil {
			return mdb, nil
		}
		db, client, err := database.ConnectMongo(ctx, a.cfg.Database.MongoURI, a.cfg.Database.MongoName, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Disconnect)
		mdb = db
		return mdb, nil
	}

	switch a.cfg.Database.Driver {
	case "postgres":
		db, err := postgres()
		if err != nil {
			return nil, nil, err
		}
		users = repositories.NewUserRepository(db)
	case "mongo":
		db, err := mongoDB()
		if err != nil {
			return nil, nil, err
		}
		repo := repositories.NewMongoUserRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		users = repo
	case "memory":
		a.log.Warn("using in-memory credential store; accounts are lost on restart")
		users = repositories.NewMemoryUserRepository()
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}

	switch a.cfg.OTP.Store {
	case "postgres":
		db, err := postgres()
		if err != nil {
			return nil, nil, err
		}
		otps = repositories.NewOTPRepository(db)
	case "mongo":
		db, err := mongoDB()
		if err != nil {
			return nil, nil, err
		}
		repo := repositories.NewMongoOTPRepository(db)
		if err := repo.EnsureIndexes(ctx, a.cfg.OTP.TTL); err != nil {
			return nil, nil, err
		}
		otps = repo
	case "redis":
		rdb, err := database.ConnectRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, a.log)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		otps = repositories.NewRedisOTPRepository(rdb, a.cfg.OTP.TTL)
	case "memory":
		otps = repositories.NewMemoryOTPRepository()
	default:
		return nil, nil, fmt.Errorf("unknown otp store %q", a.cfg.OTP.Store)
	}
	return users, otps, nil
}

func (a *App) buildNotifiers() (services.OTPSender, services.SignupNotifier, error) {
	cfg := a.cfg
	signup := services.NewSignupNotifiers(cfg.Notify.Timeout, cfg.Notify.MaxInFlight, a.log)

	var sender services.OTPSender
	if cfg.Notify.DryRun {
		a.log.Warn("notify.dry_run is on; OTP codes are written to the log")
		sender = services.NewLogOTPSender(a.log)
	} else {
		email := services.NewEmailService(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
			cfg.Email.AdminEmail,
			pdf.NewDocumentGenerator(""),
			a.log,
		)
		sender = email
		signup.Add("email", email)
	}
	sender = services.NewGuardedSender(sender, services.BreakerOptions{
		Timeout:        cfg.Notify.Timeout,
		MaxFailures:    cfg.Notify.MaxFailures,
		BreakerTimeout: cfg.Notify.BreakerTimeout,
		MaxInFlight:    cfg.Notify.MaxInFlight,
	}, a.log)

	twilio := utils.NewTwilioClient(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.From, cfg.SMS.DryRun, a.log)
	signup.Add("sms", services.NewSMSService(twilio))

	tg, err := services.NewTelegramService(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID)
	if err != nil {
		return nil, nil, err
	}
	if tg != nil {
		signup.Add("telegram", tg)
	}
	a.log.Info("signup notifications", zap.Int("channels", signup.Len()))
	return sender, signup, nil
}

// Serve runs the HTTP server and the OTP sweeper until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	defer a.Close(context.Background())

	bg, cancel := context.WithCancel(ctx)
	defer cancel()
	go services.RunOTPSweeper(bg, a.otp, a.cfg.OTP.SweepInterval, a.log)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-bg.Done():
				return
			case <-t.C:
				a.limiter.Cleanup(5 * time.Minute)
			}
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := a.auth.Drain(shutdownCtx); err != nil {
		a.log.Warn("signup notifications still pending at shutdown", zap.Error(err))
	}
	return nil
}

func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
