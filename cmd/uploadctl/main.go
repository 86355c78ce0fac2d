package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	uploader "github.com/alkuinvito/multiuploader"
)

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	var (
		policyID   = flag.Int("policy", 0, "storage policy id")
		policyType = flag.String("type", "local", "storage policy type")
		dest       = flag.String("dest", "/", "destination directory")
		chunkSize  = flag.Int64("chunk-size", 0, "chunk size in bytes, zero lets the service decide")
		locale     = flag.String("locale", env("UPLOADER_LOCALE", uploader.LocaleEnglish), "message locale")
		resumable  = flag.Bool("resumable", env("UPLOADER_RESUMABLE", "") == "true", "keep failed sessions for resume")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: uploadctl [flags] <file>")
		os.Exit(2)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(env("UPLOADER_LOG_LEVEL", "info")); err == nil {
		logger = logger.Level(lvl)
	}

	cfg := uploader.Config{
		Endpoint:  env("UPLOADER_ENDPOINT", ""),
		AccessKey: env("UPLOADER_ACCESS_KEY", ""),
		Logger:    &logger,
		Transfer:  uploader.TransferConfig{Resumable: *resumable},
	}
	if n, err := strconv.Atoi(env("UPLOADER_CONCURRENCY", "")); err == nil {
		cfg.Transfer.Concurrency = n
	}
	if n, err := strconv.Atoi(env("UPLOADER_RETRIES", "")); err == nil {
		cfg.Transfer.ChunkRetries = n
	}
	if addr := env("UPLOADER_REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: env("UPLOADER_REDIS_PASSWORD", "")})
		defer rdb.Close()
		cfg.Store = uploader.NewRedisStore(rdb, env("UPLOADER_REDIS_PREFIX", ""), 0)
	}

	client, err := uploader.NewClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create client")
	}

	path := flag.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to stat file")
	}

	task := &uploader.Task{
		Policy: &uploader.Policy{
			ID:        *policyID,
			Type:      uploader.PolicyType(strings.ToLower(*policyType)),
			ChunkSize: *chunkSize,
		},
		File: uploader.FileMeta{
			Name:         filepath.Base(path),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		},
		Reader:      f,
		Destination: *dest,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := client.Upload(ctx, task, &uploader.UploadOptions{
		OnProgress: func(uploaded, total int64) {
			logger.Info().
				Str("uploaded", uploader.SizeToString(uint64(uploaded))).
				Str("total", uploader.SizeToString(uint64(total))).
				Msg("progress")
		},
	})
	if err != nil {
		if uploader.IsCanceledByCaller(err) {
			logger.Warn().Msg("upload interrupted")
			os.Exit(130)
		}
		msg := err.Error()
		if e := uploader.AsError(err); e != nil {
			msg = e.Message(*locale)
		}
		logger.Error().Str("kind", string(uploader.KindOf(err))).Msg(msg)
		os.Exit(1)
	}

	logger.Info().Str("session", res.SessionID).Int("parts", len(res.Parts)).Bool("resumed", res.Resumed).Msg("upload complete")
}
