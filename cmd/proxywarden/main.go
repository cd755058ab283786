package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"proxywarden/internal/app"
	"proxywarden/internal/app/server"
	"proxywarden/internal/auth"
	"proxywarden/internal/blacklist"
	"proxywarden/internal/config"
	"proxywarden/internal/database"
	"proxywarden/internal/domain"
	"proxywarden/internal/jobs/checker"
	"proxywarden/internal/jobs/scraper"
	"proxywarden/internal/pool"
	"proxywarden/internal/support"
)

func main() {
	configPath := flag.String("config", support.GetEnv("PROXYWARDEN_CONFIG", "proxywarden.ini"), "path to the ini configuration file")
	once := flag.Bool("once", false, "run one forced refresh cycle and exit")
	issueToken := flag.String("issue-token", "", "print a signed bearer token for `subject` and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}
	config.SetConfig(cfg)
	log.SetLevel(cfg.LogLevel())

	if *issueToken != "" {
		authenticator, err := auth.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
		if err != nil {
			log.Fatal("Cannot issue token", "error", err)
		}
		token, err := authenticator.Issue(*issueToken)
		if err != nil {
			log.Fatal("Cannot issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		log.Fatal("proxywarden stopped", "error", err)
	}
}

func run(ctx context.Context, cfg config.Config, once bool) error {
	log.Warn("TLS verification off; do not probe secrets through this path")

	db, err := database.SetupDB()
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Warn("Failed to close database", "error", err)
		}
	}()
	st := database.NewStore(db)

	redisClient, err := support.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	blocked := blacklist.New(st)
	if err := blocked.LoadCache(ctx); err != nil {
		return fmt.Errorf("load blocked ranges: %w", err)
	}
	if redisClient != nil {
		blocked.EnableRedisSynchronization(ctx, redisClient)
		defer blocked.StopRedisSynchronization()
	}

	harvesterOpts := []scraper.HarvesterOption{scraper.WithBlocklist(blocked)}
	if cfg.Harvest.GeoIPDatabase != "" {
		geo, err := scraper.OpenGeoIP(cfg.Harvest.GeoIPDatabase)
		if err != nil {
			log.Warn("GeoIP database unavailable, countries stay as harvested", "path", cfg.Harvest.GeoIPDatabase, "error", err)
		} else {
			defer geo.Close()
			harvesterOpts = append(harvesterOpts, scraper.WithCountryResolver(geo))
		}
	}

	sources, err := scraper.BuildSources(cfg.Harvest)
	if err != nil {
		return err
	}
	harvester := scraper.NewHarvester(st, sources, harvesterOpts...)

	prober, err := checker.NewProber(checker.ProberConfigFrom(cfg))
	if err != nil {
		return err
	}
	chk := checker.NewChecker(st, prober, checker.OptionsFrom(cfg))

	var protocol domain.Protocol
	if cfg.Pool.Protocol != "" {
		protocol, _ = domain.ParseProtocol(cfg.Pool.Protocol)
	}
	poolService := pool.NewService(st, pool.Options{Protocol: protocol})

	refresher := app.NewRefresher(poolService, harvester, chk, redisClient, app.RefreshOptionsFrom(cfg))

	if once {
		report, err := refresher.RunCycle(ctx, true)
		if err != nil {
			return err
		}
		log.Info("Cycle complete", "working", report.Statistics.Working, "total", report.Statistics.Total)
		return nil
	}

	var authenticator *auth.Authenticator
	if cfg.Server.JWTSecret != "" {
		if authenticator, err = auth.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.TokenTTL); err != nil {
			return err
		}
	} else {
		log.Warn("No jwt secret configured, write endpoints are disabled")
	}

	api, err := server.New(server.Dependencies{
		Pool:       poolService,
		Sources:    st,
		Blacklist:  blocked,
		Refresher:  refresher,
		Checker:    chk,
		SampleSize: cfg.Checker.RandomSampleSize,
		Auth:       authenticator,
		MaxAge:     cfg.Pool.MaxAge,
	})
	if err != nil {
		return err
	}

	go refresher.StartLoop(ctx, cfg.Pool.RefreshInterval)

	log.Info("proxywarden started",
		"instance", support.GetInstanceID(),
		"sources", len(sources),
		"redis", redisClient != nil,
	)
	return api.ListenAndServe(ctx, cfg.Server.Addr)
}
