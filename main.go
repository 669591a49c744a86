package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"

	"github.com/rpupo63/blog-backend/api"
	"github.com/rpupo63/blog-backend/auth"
	"github.com/rpupo63/blog-backend/config"
	"github.com/rpupo63/blog-backend/database"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/filestore"
	"github.com/rpupo63/blog-backend/jobs"
	"github.com/rpupo63/blog-backend/mailer"
	"github.com/rpupo63/blog-backend/models"
	"github.com/rpupo63/blog-backend/services"
)

func main() {
	fmt.Println("Initializing app...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: Error loading .env file: %v\n", err)
	}

	c := config.New()
	setupLogging(c)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if path := config.GetString(c, "SSM_PARAMETER_PATH", ""); path != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Error loading AWS configuration")
		}
		if err := config.LoadSSM(ctx, ssm.NewFromConfig(awsCfg), path, c); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Error loading parameters from SSM")
		}
	}

	db, err := openDatabase(c)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}

	// If generating models, run generation and exit
	if config.GetBool(c, "GENERATE_MODELS", false) {
		fmt.Println("Generating models and query helpers...")
		if err := models.GenerateModels(db); err != nil {
			log.Fatal().Err(err).Msg("Error generating models")
		}
		return
	}

	// If generating column mismatch report, run report and exit
	if config.GetBool(c, "GENERATE_COLUMN_REPORT", false) {
		fmt.Println("Generating column mismatch report...")
		if _, err := models.GenerateColumnMismatchReport(db); err != nil {
			log.Fatal().Err(err).Msg("Error generating column report")
		}
		return
	}

	currentDB := database.New(db)
	if err := currentDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Error migrating database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.GetString(c, "REDIS_ADDR", "localhost:6379"),
		Password: config.GetString(c, "REDIS_PASSWORD", ""),
		DB:       config.GetInt(c, "REDIS_DB", 0),
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Error connecting to redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queue := jobs.NewQueue(rdb, config.GetString(c, "QUEUE_NAME", "mail"))

	renderer, err := mailer.NewRenderer()
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing mail templates")
	}
	transport, err := newMailTransport(c, renderer)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing mail transport")
	}

	worker := jobs.NewWorker(queue, jobs.WorkerOptions{
		HandlerTimeout: config.GetDuration(c, "JOB_HANDLER_TIMEOUT", jobs.DefaultHandlerTimeout),
		Backoff:        config.GetDuration(c, "JOB_BACKOFF", jobs.DefaultBackoff),
		OnFailed:       services.RecordFailedJobs(currentDB.FailedJobRepo()),
		Metrics:        jobs.NewMetrics(registry),
	})
	worker.Register(mailer.SendMailJob, mailer.SendMailHandler(transport))

	files, err := openFileStore(ctx, c)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing file store")
	}

	tokens, err := auth.NewTokens(config.GetString(c, "JWT_SECRET", ""), config.GetDuration(c, "JWT_TTL", 24*time.Hour))
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing token signer")
	}

	posts := services.NewPostService(currentDB.PostRepo(), files, services.NewMailNotifier(queue))

	server, err := api.NewServer(c, api.Dependencies{
		Database: currentDB,
		Posts:    posts,
		Jobs:     services.NewJobAdmin(currentDB.FailedJobRepo(), queue),
		Tokens:   tokens,
		Metrics:  registry,
		Checks: map[string]api.HealthCheck{
			"database": func(context.Context) error { return currentDB.Ping() },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing server")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("Closing server...")
		server.ShutdownGracefully(30 * time.Second)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Shut down with error")
	}
}

func setupLogging(c map[string]string) {
	level, err := zerolog.ParseLevel(config.GetString(c, "LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.GetBool(c, "LOG_PRETTY", false) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func openDatabase(c map[string]string) (*gorm.DB, error) {
	dsn := config.GetString(c, "DATABASE_URL", "")
	if dsn == "" {
		return nil, errs.NewConfigError("DATABASE_URL", fmt.Errorf("database url is required"))
	}

	newLogger := logger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		logger.Config{
			SlowThreshold:             config.GetDuration(c, "DB_SLOW_THRESHOLD", 10*time.Second),
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		PrepareStmt: false,
		Logger:      newLogger,
	})
	if err != nil {
		return nil, err
	}

	if replica := config.GetString(c, "DB_REPLICA_URL", ""); replica != "" {
		err := db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: []gorm.Dialector{postgres.New(postgres.Config{DSN: replica, PreferSimpleProtocol: true})},
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, fmt.Errorf("error registering read replica: %w", err)
		}
	}

	// Test database connection
	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		return nil, err
	}
	return db, nil
}

func openFileStore(ctx context.Context, c map[string]string) (filestore.Store, error) {
	switch driver := strings.ToLower(config.GetString(c, "STORAGE_DRIVER", "fs")); driver {
	case "fs":
		return filestore.NewFS(config.GetString(c, "UPLOADS_DIR", "uploads"))
	case "s3":
		return filestore.NewS3(ctx, filestore.S3Config{
			Region:          config.GetString(c, "S3_REGION", "us-east-1"),
			Bucket:          config.GetString(c, "S3_BUCKET", ""),
			Prefix:          config.GetString(c, "S3_PREFIX", ""),
			AccessKeyID:     config.GetString(c, "AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: config.GetString(c, "AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        config.GetString(c, "S3_ENDPOINT", ""),
			UsePathStyle:    config.GetBool(c, "S3_USE_PATH_STYLE", false),
		})
	case "minio":
		store, err := filestore.NewMinio(filestore.MinioConfig{
			Endpoint:  config.GetString(c, "MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: config.GetString(c, "MINIO_ACCESS_KEY", ""),
			SecretKey: config.GetString(c, "MINIO_SECRET_KEY", ""),
			UseSSL:    config.GetBool(c, "MINIO_USE_SSL", false),
			Bucket:    config.GetString(c, "MINIO_BUCKET", "uploads"),
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errs.NewInvalidConfigError("STORAGE_DRIVER", driver)
	}
}

func newMailTransport(c map[string]string, renderer *mailer.Renderer) (mailer.Transport, error) {
	apiKey := config.GetString(c, "RESEND_API_KEY", "")
	if apiKey == "" {
		log.Warn().Msg("RESEND_API_KEY not set, mail will only be logged")
		return mailer.NewLogTransport(renderer), nil
	}
	return mailer.NewResendTransport(mailer.ResendConfig{
		APIKey:    apiKey,
		FromEmail: config.GetString(c, "RESEND_FROM_EMAIL", ""),
		BaseURL:   config.GetString(c, "RESEND_BASE_URL", mailer.DefaultResendBaseURL),
		Timeout:   config.GetDuration(c, "RESEND_TIMEOUT", 10*time.Second),
	}, renderer)
}
