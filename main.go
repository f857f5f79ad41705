package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AlfredDev/novagate/compat"
	"github.com/AlfredDev/novagate/config"
	"github.com/AlfredDev/novagate/credential"
	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/handler"
	"github.com/AlfredDev/novagate/hooks"
	"github.com/AlfredDev/novagate/logger"
	gwmw "github.com/AlfredDev/novagate/middleware"
	"github.com/AlfredDev/novagate/observability"
	"github.com/AlfredDev/novagate/pipeline"
	"github.com/AlfredDev/novagate/quota"
	"github.com/AlfredDev/novagate/redisclient"
	"github.com/AlfredDev/novagate/reqid"
	"github.com/AlfredDev/novagate/router"
	"github.com/AlfredDev/novagate/security"
	"github.com/AlfredDev/novagate/snapshot"
	"github.com/AlfredDev/novagate/transport"
	"github.com/AlfredDev/novagate/vrouter"
)

// Exit codes: 0 clean shutdown, 1 startup failure (also returned when
// graceful shutdown fails), 2 config/profile decode failure, 3 listener
// failure.
const (
	exitOK             = 0
	exitStartupFailure = 1
	exitConfigFailure  = 2
	exitListenFailure  = 3
)

// targetInfo is the fully-resolved shape one vrouter.ProviderKey maps
// to — everything pipeline.Orchestrator's resolveTarget/providerDialectFor
// closures need, pre-computed once at load time instead of re-parsed
// out of the key string on every request.
type targetInfo struct {
	providerID string
	model      string
	alias      string
	profile    config.ProviderProfile
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("novagate gateway starting")

	profiles, targets, err := loadProfiles(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to load provider profiles")
		os.Exit(exitConfigFailure)
	}

	routeTable, err := loadRoutes(cfg, profiles)
	if err != nil {
		log.Error().Err(err).Msg("failed to load route definitions")
		os.Exit(exitConfigFailure)
	}

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — continuing without redis")
	} else if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed")
	} else {
		log.Info().Msg("redis connected")
	}

	secretStore := security.NewSecretStore(security.VaultConfig{
		Enabled:   os.Getenv("VAULT_ADDR") != "",
		Address:   os.Getenv("VAULT_ADDR"),
		Token:     os.Getenv("VAULT_TOKEN"),
		MountPath: os.Getenv("VAULT_MOUNT_PATH"),
	})

	apikeySource := credential.NewAPIKeySource(secretStore)
	oauthStore := credential.NewOAuthStore(unsupportedOAuthRefresh, log, 2*time.Minute)
	modes := make(map[string]string, len(profiles))
	for id, p := range profiles {
		modes[id] = p.AuthMode
	}
	authSource := credential.NewCompositeSource(modes, apikeySource, oauthStore)

	ctx := context.Background()
	for _, p := range profiles {
		if p.AuthMode != "apikey" {
			continue
		}
		for _, ka := range p.KeyAliases {
			if err := apikeySource.LoadAlias(ctx, p.ID, ka.Alias, ka.Env); err != nil {
				log.Warn().Err(err).Str("provider", p.ID).Str("alias", ka.Alias).Msg("failed to load api key")
			}
		}
	}

	compatRegistry := buildCompatRegistry()
	compatMapper := buildCompatMapper()
	pool := transport.NewConnectionPool(transport.DefaultPoolConfig())
	httpTransport := transport.NewHTTPTransport(pool, compatRegistry, compatMapper, authSource)

	sessions := vrouter.NewSessionStore()
	quotaLoop := quota.NewLoop(log, cfg.QuotaBlacklistThreshold)
	engine := vrouter.NewEngine(routeTable, sessions, quotaLoop)
	loadTracker := gwmw.NewProviderLoadTracker()
	engine.SetLoadCounter(loadTracker)
	trackedTransport := gwmw.NewLoadTrackingTransport(httpTransport, loadTracker)

	hookRegistry := hooks.NewRegistry()

	metrics := observability.NewMetrics(log)
	traceExporter := observability.NewLogExporter(log)
	tracer := observability.NewTracer(log, traceExporter, 1.0)

	snapshotDir := os.Getenv("GATEWAY_SNAPSHOT_DIR")
	if snapshotDir == "" {
		snapshotDir = "./snapshots"
		if home, err := os.UserHomeDir(); err == nil {
			snapshotDir = filepath.Join(home, ".novagate", "codex-samples")
		}
	}
	snapshots := snapshot.NewWriter(snapshotDir, log)

	reqids := reqid.New()

	resolveTarget := func(key vrouter.ProviderKey) transport.Target {
		info, ok := targets[key]
		if !ok {
			return transport.Target{Key: transport.ProviderKey(key)}
		}
		timeout := cfg.DefaultTimeout
		if info.profile.TimeoutMs > 0 {
			timeout = time.Duration(info.profile.TimeoutMs) * time.Millisecond
		}
		return transport.Target{
			Key:                    transport.ProviderKey(key),
			FamilyID:               info.profile.FamilyID,
			CompatibilityProfileID: info.profile.CompatibilityProfileID,
			BaseURL:                info.profile.BaseURL,
			Model:                  info.model,
			Alias:                  info.alias,
			ProviderID:             info.providerID,
			Timeout:                timeout,
		}
	}

	providerDialectFor := func(key vrouter.ProviderKey) dialect.ProviderDialect {
		info, ok := targets[key]
		if !ok {
			return dialect.ProviderOpenAI
		}
		switch info.profile.Dialect {
		case "anthropic-compatible":
			return dialect.ProviderAnthropic
		case "gemini":
			return dialect.ProviderGemini
		default:
			return dialect.ProviderOpenAI
		}
	}

	orchestrator := pipeline.NewOrchestrator(
		reqids, snapshots, engine, quotaLoop, trackedTransport, hookRegistry,
		resolveTarget, providerDialectFor, log,
	)

	liveProfiles := profiles
	profilesFunc := func() map[string]config.ProviderProfile { return liveProfiles }

	reload := func() error {
		newProfiles, newTargets, err := loadProfiles(cfg)
		if err != nil {
			return err
		}
		newTable, err := loadRoutes(cfg, newProfiles)
		if err != nil {
			return err
		}
		liveProfiles = newProfiles
		targets = newTargets
		*routeTable = *newTable
		return nil
	}

	handlers := router.Handlers{
		Chat:      handler.NewChatHandler(orchestrator, sessions, snapshots, reqids, log),
		Messages:  handler.NewMessagesHandler(orchestrator, sessions, snapshots, reqids, log),
		Responses: handler.NewResponsesHandler(orchestrator, sessions, snapshots, reqids, log),
		Models:    handler.NewModelsHandler(profilesFunc, quotaLoop),
		Quota:     handler.NewQuotaHandler(quotaLoop, profilesFunc),
		System:    handler.NewSystemHandler(cfg, profilesFunc, reload),
	}

	r := router.NewRouter(cfg, log, handlers, metrics, tracer)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	refreshKeys := keysByFamily(targets)
	go quotaLoop.PeriodicRefresh(refreshCtx, time.Duration(cfg.QuotaRefreshIntervalSec)*time.Second, 0.01, refreshKeys)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		log.Error().Err(err).Msg("server failed to start")
		cancelRefresh()
		os.Exit(exitListenFailure)
	case <-done:
		log.Info().Msg("shutdown signal received")
	}

	cancelRefresh()
	tracer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(exitStartupFailure)
	}
	log.Info().Msg("gateway stopped gracefully")
	os.Exit(exitOK)
}

// loadProfiles decodes the Provider Profile file and expands it into
// the full (providerID, model, alias) -> targetInfo map every
// ProviderKey in the system can resolve through, avoiding any need to
// parse dots back out of a ProviderKey string at request time.
func loadProfiles(cfg *config.Config) (map[string]config.ProviderProfile, map[vrouter.ProviderKey]targetInfo, error) {
	profiles, err := config.LoadProviderProfiles(cfg.ProvidersFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load provider profiles: %w", err)
	}

	targets := make(map[vrouter.ProviderKey]targetInfo)
	for _, p := range profiles {
		for _, model := range p.Models {
			if len(p.KeyAliases) == 0 {
				key := vrouter.NewProviderKey(p.ID, model, "")
				targets[key] = targetInfo{providerID: p.ID, model: model, profile: p}
				continue
			}
			for _, ka := range p.KeyAliases {
				key := vrouter.NewProviderKey(p.ID, model, ka.Alias)
				targets[key] = targetInfo{providerID: p.ID, model: model, alias: ka.Alias, profile: p}
			}
		}
	}
	return profiles, targets, nil
}

// loadRoutes decodes the Route Definition file and compiles it into a
// vrouter.Table, resolving each target's familyId from the matching
// Provider Profile rather than requiring it duplicated in the routes file.
func loadRoutes(cfg *config.Config, profiles map[string]config.ProviderProfile) (*vrouter.Table, error) {
	defs, err := config.LoadRouteDefinitions(cfg.RoutesFile)
	if err != nil {
		return nil, fmt.Errorf("load route definitions: %w", err)
	}

	routes := make([]vrouter.Route, 0, len(defs))
	for _, d := range defs {
		pools := make([]vrouter.Pool, 0, len(d.Pools))
		for _, pd := range d.Pools {
			targets := make([]vrouter.Target, 0, len(pd.Targets))
			for _, td := range pd.Targets {
				familyID := ""
				if p, ok := profiles[td.ProviderID]; ok {
					familyID = p.FamilyID
				}
				targets = append(targets, vrouter.Target{
					Key:      vrouter.NewProviderKey(td.ProviderID, td.ModelID, td.KeyAlias),
					Weight:   td.Weight,
					FamilyID: familyID,
				})
			}
			pools = append(pools, vrouter.Pool{Name: pd.Name, Strategy: pd.Strategy, Targets: targets})
		}
		routes = append(routes, vrouter.Route{
			ID: d.ID,
			Pattern: vrouter.Pattern{
				ModelRegex: d.ModelRegex,
				Headers:    d.Headers,
			},
			Pools:   pools,
			Default: d.Default,
		})
	}

	return vrouter.NewTable(routes)
}

// keysByFamily groups every known ProviderKey by its family id, the
// shape quota.Loop.PeriodicRefresh needs to fan a registered
// RemoteQuotaFetcher out across every key it's responsible for.
func keysByFamily(targets map[vrouter.ProviderKey]targetInfo) map[string][]quota.ProviderKey {
	out := make(map[string][]quota.ProviderKey)
	for key, info := range targets {
		fam := info.profile.FamilyID
		out[fam] = append(out[fam], quota.ProviderKey(key))
	}
	return out
}

// buildCompatRegistry registers the family-specific wire-finalization
// hooks this gateway knows about. DeepSeek's proof-of-work challenge
// fetch has no generic transport in ProviderProfile (it needs a live
// call to DeepSeek's own challenge endpoint), so it's registered with a
// challenge func that fails closed until a family-specific transport
// is wired in.
func buildCompatRegistry() *compat.Registry {
	r := compat.NewRegistry()
	r.Register("antigravity", compat.NewAntigravityHook(nil))
	r.Register("iflow", compat.NewIFlowHook())
	r.Register("glm", compat.NewGLMHook())
	r.Register("qwen", compat.NewQwenHook())
	r.Register("codex", compat.NewCodexHook("novagate-gateway/1.0"))

	solver := credential.NewPOWSolver(30 * time.Second)
	fingerprints := credential.NewFingerprintStore(func(profileID string) (credential.Fingerprint, error) {
		return credential.Fingerprint{}, fmt.Errorf("no fingerprint profile configured for %s", profileID)
	})
	r.Register("deepseek", compat.NewDeepSeekHook(solver, fingerprints, func(_ context.Context) (compat.POWChallenge, error) {
		return compat.POWChallenge{}, fmt.Errorf("deepseek pow challenge endpoint not configured")
	}))
	return r
}

// buildCompatMapper constructs the default field-mapping profiles for
// the validate → filter → map → filter chain. Providers without a
// CompatibilityProfileID fall back to the empty-string profile
// registered under each direction here.
func buildCompatMapper() *compat.Mapper {
	return compat.NewMapper(map[compat.Direction]map[string]compat.FieldMapConfig{
		compat.DirectionRequest: {
			"": {RequireFields: []string{"model"}},
		},
	})
}

func unsupportedOAuthRefresh(_ context.Context, providerID, alias string, _ *credential.OAuthRecord) (*credential.OAuthRecord, error) {
	return nil, fmt.Errorf("oauth refresh not configured for provider %s/%s", providerID, alias)
}
