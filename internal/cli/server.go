package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"classquest-battle/internal/app"
	"classquest-battle/internal/config"
	"classquest-battle/internal/domain"
	"classquest-battle/internal/infra/memory"
	"classquest-battle/internal/infra/postgres"
	redisstore "classquest-battle/internal/infra/redis"
	"classquest-battle/internal/logging"
	"classquest-battle/internal/metrics"
	transport "classquest-battle/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)
	defer log.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var db *bun.DB
	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		db, err = openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrateDB(ctx, db, log); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)

	var questionStore app.QuestionStore = memory.NewQuestionStore()
	if db != nil {
		questionStore = postgres.NewQuestionStore(db)
	}
	var questions app.QuestionStore
	if redisClient != nil {
		questions = redisstore.NewQuestionCache(redisClient, questionStore, questionTTL)
	} else {
		questions = memory.NewQuestionCache(questionStore, questionTTL)
	}

	var instances app.InstanceStore
	var participants app.ParticipantStore
	switch {
	case redisClient != nil:
		instances = redisstore.NewInstanceStore(redisClient, redisTTL)
		participants = redisstore.NewParticipantStore(redisClient, redisTTL)
	case db != nil:
		instances = postgres.NewInstanceStore(db)
		participants = postgres.NewParticipantStore(db)
	default:
		instances = memory.NewInstanceStore()
		participants = memory.NewParticipantStore()
	}

	roster := memory.NewStaticRoster(cfg.Rosters)
	if len(cfg.Rosters) == 0 {
		roster.Enroll(sampleClassID, "student-1", "student-2", "student-3", "student-4")
	}
	var enrollment app.EnrollmentChecker = roster
	if pool != nil {
		enrollment = postgres.NewEnrollmentChecker(pool)
	}

	recorder := metrics.New()
	bank := app.NewQuestionBank(questions)
	battles := app.NewBattleService(
		bank,
		app.NewParticipantRegistry(participants),
		instances,
		enrollment,
		app.WithLogger(log),
		app.WithRecorder(recorder),
		app.WithMaxAttempts(cfg.Battle.MaxAttempts),
		app.WithGuildMaxHP(cfg.Battle.GuildMaxHP),
	)

	if db == nil {
		if err := seedSampleTemplate(ctx, bank); err != nil {
			return err
		}
		log.Info("seeded sample template", zap.String("template_id", sampleTemplateID))
	}

	timer := app.NewQuestionTimer(battles, instances,
		config.TTLDuration(cfg.Battle.TickInterval, time.Second), log.Named("timer"))

	api := http.NewServeMux()
	transport.NewControlHandler(battles, bank, log.Named("control")).Register(api)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", recorder.Handler())
	ws := transport.NewWSHandler(battles, log.Named("ws"),
		transport.WithAnswerRate(cfg.Battle.AnswerRate, cfg.Battle.AnswerBurst))
	mux.Handle("/ws", recorder.Middleware("/ws", http.HandlerFunc(ws.ServeWS)))
	mux.Handle("/", recorder.Middleware("api", api))

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting battle service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return timer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

const (
	sampleTemplateID = "tpl-fraction-dragon"
	sampleClassID    = "class-demo"
)

// seedSampleTemplate installs a small demo battle for in-memory setups.
func seedSampleTemplate(ctx context.Context, bank *app.QuestionBank) error {
	if _, err := bank.Template(ctx, sampleTemplateID); err == nil {
		return nil
	}
	if _, err := bank.CreateTemplate(ctx, domain.BossTemplate{
		ID:             sampleTemplateID,
		OwnerTeacherID: "teacher-demo",
		Title:          "The Fraction Dragon",
		Description:    "Answer fraction questions to bring the dragon down.",
		MaxHP:          100,
		BaseXPReward:   10,
		BaseGoldReward: 5,
	}); err != nil {
		return err
	}

	limit := 30
	questions := []domain.Question{
		{
			OrderIndex:               0,
			Text:                     "What is 1/2 + 1/4?",
			Type:                     domain.QuestionMCQSingle,
			Options:                  []domain.Option{{ID: "a", Text: "2/6"}, {ID: "b", Text: "3/4"}, {ID: "c", Text: "1/8"}},
			CorrectAnswer:            domain.ChoiceAnswer{ChoiceID: "b"},
			DamageToBossOnCorrect:    25,
			DamageToGuildOnIncorrect: 10,
			AutoGradable:             true,
			TimeLimitSeconds:         &limit,
			Reward:                   domain.RewardConfig{BaseXP: 10, MinXP: 2, XPDecayPerWrong: 3, BaseGold: 5, MinGold: 1, GoldDecayPerWrong: 2},
		},
		{
			OrderIndex:               1,
			Text:                     "Is 2/4 equal to 1/2?",
			Type:                     domain.QuestionTrueFalse,
			CorrectAnswer:            domain.BoolAnswer{Value: true},
			DamageToBossOnCorrect:    25,
			DamageToGuildOnIncorrect: 10,
			AutoGradable:             true,
			TimeLimitSeconds:         &limit,
		},
		{
			OrderIndex:               2,
			Text:                     "What is 3/4 of 20?",
			Type:                     domain.QuestionNumeric,
			CorrectAnswer:            domain.NumericAnswer{Value: 15},
			DamageToBossOnCorrect:    50,
			DamageToGuildOnIncorrect: 15,
			AutoGradable:             true,
			TimeLimitSeconds:         &limit,
		},
	}
	for _, q := range questions {
		q.TemplateID = sampleTemplateID
		if _, err := bank.CreateQuestion(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
