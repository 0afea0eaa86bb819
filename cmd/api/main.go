package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"nftpack/internal/carpack"
	"nftpack/internal/config"
	"nftpack/internal/metadata"
	"nftpack/internal/middleware"
	"nftpack/internal/modules/progress"
	"nftpack/internal/modules/upload"
	"nftpack/internal/pkg/fsutil"
	"nftpack/internal/session"
	"nftpack/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if err := fsutil.EnsureDir(cfg.AssetsDir); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		),
	)
	if err != nil {
		log.Fatalf("failed to load aws config: %v", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		o.UsePathStyle = true
	})

	allocator, err := fsutil.NewAllocator(cfg.AssetsDir)
	if err != nil {
		log.Fatal(err)
	}

	registry := session.NewRegistry(filepath.Join(cfg.AssetsDir, "temp"))
	broadcaster := progress.NewBroadcaster()
	uploader := storage.NewUploader(client, cfg.S3.Bucket, cfg.ProgressInterval)
	rewriter := metadata.NewRewriter(cfg.MetadataSkipBad)

	svc := upload.NewService(
		registry,
		carpack.NewPacker(),
		uploader,
		rewriter,
		broadcaster,
		allocator,
		cfg.AssetsDir,
	)
	uploadHandler := upload.NewHandler(svc, registry, cfg.MaxFileSize, cfg.DevMode())
	progressHandler := progress.NewHandler(broadcaster)

	if !cfg.DevMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.MaxMultipartMemory = 64 << 20
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorLogger())

	uploadHandler.RegisterRoutes(r)
	progressHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
