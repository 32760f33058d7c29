package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"proxygate/internal/activity"
	"proxygate/internal/checker"
	"proxygate/internal/config"
	"proxygate/internal/database"
	"proxygate/internal/denylist"
	"proxygate/internal/gateway"
	"proxygate/internal/geolite"
	"proxygate/internal/jobs/runtime"
	"proxygate/internal/registry"
	"proxygate/internal/rotation"
	"proxygate/internal/server"
	"proxygate/internal/support"
)

const (
	defaultGatewayPort = 8080
	defaultAPIPort     = 8081
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	gatewayPortFlag := flag.Int("gateway-port", defaultGatewayPort, "Port for the forwarding gateway")
	apiPortFlag := flag.Int("api-port", defaultAPIPort, "Port for the control API")
	flag.Parse()

	config.ReadSettings()
	cfg := config.GetConfig()

	gatewayPort := resolvePort("GATEWAY_PORT", "gateway-port", *gatewayPortFlag, cfg.Gateway.ListenPort)
	apiPort := resolvePort("API_PORT", "api-port", *apiPortFlag, cfg.Server.ListenPort)
	systemToken := support.GetEnv("SYSTEM_TOKEN", "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Record store is optional: without it the pool lives in memory only.
	var store registry.Store
	dbStore, err := database.Connect()
	if err != nil {
		log.Warn("record store unavailable, running with in-memory pool only", "error", err)
	} else {
		store = dbStore
	}

	reg := registry.New(store)
	if dbStore != nil {
		hydrateRegistry(ctx, reg, dbStore)
	}

	if cfg.GeoIP.DatabasePath != "" {
		resolver, err := geolite.Open(cfg.GeoIP.DatabasePath)
		if err != nil {
			log.Warn("geoip database unavailable", "path", cfg.GeoIP.DatabasePath, "error", err)
		} else {
			reg.SetGeoResolver(resolver)
			defer resolver.Close()
		}
	}

	if redisClient, err := support.GetRedisClient(); err != nil {
		log.Warn("redis unavailable, instance heartbeat disabled", "error", err)
	} else {
		heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient, reg)
		defer heartbeatCancel()
		defer support.CloseRedisClient()
	}

	deadTTL := time.Duration(cfg.Rotation.DeadTargetTTLSeconds) * time.Second
	selector := rotation.NewSelector(reg, rotation.NewDeadTargets(deadTTL))

	denyCache := denylist.NewCache(denylist.NewHTTPFetcher(cfg.Denylist.RulesURL, systemToken))
	if cfg.Denylist.RulesURL != "" {
		denyCache.Start(ctx)
		defer denyCache.Stop()
	} else {
		log.Warn("no deny-list rules endpoint configured, all targets allowed")
	}

	var sink activity.Sink = activity.NopSink{}
	if cfg.Activity.SinkURL != "" {
		sink = activity.NewHTTPSink(cfg.Activity.SinkURL, systemToken)
	} else {
		log.Warn("no activity sink configured, records are discarded")
	}
	dispatcher := activity.NewDispatcher(sink, cfg.Activity.QueueSize)
	defer dispatcher.Close()

	chk := checker.New(reg)
	chk.Start(ctx)
	defer chk.Stop()

	gw := gateway.NewServer(gateway.NewHandler(selector, denyCache, dispatcher, gateway.Options{
		DefaultPolicy:     rotation.Policy(cfg.Rotation.DefaultPolicy),
		ForwardTimeout:    time.Duration(cfg.Gateway.ForwardTimeout) * time.Millisecond,
		MaxConcurrent:     cfg.Gateway.MaxConcurrent,
		RequireCredential: cfg.Gateway.RequireCredential,
		DefaultCredential: cfg.Gateway.DefaultCredential,
	}), gatewayPort)
	if err := gw.Start(); err != nil {
		return err
	}
	defer gw.Stop()

	api := server.NewServer(reg, selector, denyCache, chk, apiPort)
	if err := api.Start(); err != nil {
		gw.Stop()
		return err
	}
	defer api.Stop()

	log.Info("proxygate running", "gateway_port", gatewayPort, "api_port", apiPort)
	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

func hydrateRegistry(ctx context.Context, reg *registry.Registry, store *database.Store) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, err := store.ListProxies(loadCtx)
	if err != nil {
		log.Error("failed to hydrate proxy pool from record store", "error", err)
		return
	}
	for _, record := range records {
		reg.Add(record)
	}
	log.Info("proxy pool hydrated", "count", len(records))
}

// resolvePort picks a port with env taking precedence over an explicit flag,
// which in turn beats the settings file.
func resolvePort(envKey, flagName string, flagValue, configValue int) int {
	if raw := os.Getenv(envKey); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port != 0 {
			return port
		}
		log.Warn("invalid port override", "env", envKey, "value", raw)
	}
	if isFlagSet(flagName) && flagValue != 0 {
		return flagValue
	}
	if configValue != 0 {
		return configValue
	}
	return flagValue
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
