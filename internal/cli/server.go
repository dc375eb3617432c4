package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pgloader "live-quiz-service/internal/infra/postgres"
	"live-quiz-service/internal/infra/rabbit"
	redisstore "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

// loadConfig reads the YAML file and applies command line and environment overrides.
func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	override := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}
	override(&cfg.Server.Port, opts.port)
	override(&cfg.Server.PublicURL, opts.publicURL)
	override(&cfg.Redis.Addr, opts.redisAddr)
	override(&cfg.Postgres.URL, opts.postgresURL)
	override(&cfg.Rabbit.URL, opts.rabbitURL)
	override(&cfg.Auth.JWTSecret, opts.jwtSecret)
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://localhost:" + cfg.Server.Port
	}
	return cfg, nil
}

func runServer(ctx context.Context, cfg config.Config) error {
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "ping redis %s", cfg.Redis.Addr)
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		defer pool.Close()
		pgLoader, err := pgloader.NewQuizLoader(pool)
		if err != nil {
			return err
		}
		loader = pgLoader
	} else {
		glog.Warning("no postgres configured, serving the built-in sample quiz")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizRepository
	var store app.GameStore
	if redisClient != nil {
		quizzes = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
		store = redisstore.NewGameStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 12*time.Hour))
	} else {
		quizzes = memory.NewQuizRepository(loader, quizTTL)
		store = memory.NewGameStore()
	}

	serviceOpts := []app.Option{
		app.WithCodeAttempts(cfg.Game.CodeAttempts),
		app.WithRetry(cfg.Game.SubmitAttempts, config.TTLDuration(cfg.Game.RetryInterval, 0)),
	}
	if cfg.Rabbit.URL != "" {
		publisher, err := rabbit.Dial(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		serviceOpts = append(serviceOpts, app.WithEventPublisher(publisher))
	}
	service := app.NewGameService(store, quizzes, serviceOpts...)

	if cfg.Auth.JWTSecret == "" {
		glog.Warning("no jwt secret configured, trusting the X-User-ID header")
	}
	handler := transport.NewHandler(service, transport.NewAuthenticator(cfg.Auth.JWTSecret), cfg.Server.PublicURL)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      transport.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		glog.Infof("starting quiz service on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		glog.Info("shutting down server...")
	case <-ctx.Done():
		glog.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes is served when no quiz database is configured. It is owned by
// user "demo-host".
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"sample": {
			ID:        "sample",
			Title:     "Warm-up",
			CreatorID: "demo-host",
			Questions: []domain.Question{
				{
					Text:          "What is 2 + 2?",
					Kind:          domain.KindMultipleChoice,
					TimerSeconds:  20,
					Options:       []string{"3", "4", "5"},
					CorrectAnswer: "4",
				},
				{
					Text:          "Go has generics.",
					Kind:          domain.KindTrueFalse,
					TimerSeconds:  15,
					Options:       []string{"true", "false"},
					CorrectAnswer: "true",
				},
				{
					Text:          "Name the Go mascot.",
					Kind:          domain.KindTextEntry,
					TimerSeconds:  30,
					CorrectAnswer: "Gopher",
				},
			},
		},
	}
}
