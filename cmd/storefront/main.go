package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/storefront/internal/auth/authorizer"
	"github.com/dropDatabas3/storefront/internal/auth/gate"
	"github.com/dropDatabas3/storefront/internal/auth/jwks"
	"github.com/dropDatabas3/storefront/internal/auth/login"
	"github.com/dropDatabas3/storefront/internal/auth/token"
	"github.com/dropDatabas3/storefront/internal/cache"
	memcache "github.com/dropDatabas3/storefront/internal/cache/memory"
	redcache "github.com/dropDatabas3/storefront/internal/cache/redis"
	"github.com/dropDatabas3/storefront/internal/catalog"
	"github.com/dropDatabas3/storefront/internal/config"
	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	"github.com/dropDatabas3/storefront/internal/email"
	httpserver "github.com/dropDatabas3/storefront/internal/http"
	"github.com/dropDatabas3/storefront/internal/idp"
	"github.com/dropDatabas3/storefront/internal/inventory"
	"github.com/dropDatabas3/storefront/internal/metrics"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
	"github.com/dropDatabas3/storefront/internal/orders"
	"github.com/dropDatabas3/storefront/internal/rate"
	memstore "github.com/dropDatabas3/storefront/internal/store/memory"
	pgstore "github.com/dropDatabas3/storefront/internal/store/pg"
	migrations "github.com/dropDatabas3/storefront/migrations/postgres"
)

var version = "dev"

func main() {
	// .env is a local-dev convenience; absence is normal in deploys.
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:     "storefront",
		Short:   "Storefront service: shop API, admin gate and console API",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(seedCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       "info",
		ServiceName: "storefront",
		Version:     version,
	})
	return cfg, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logger.Named("main")

			// Store: Postgres when a DSN is configured, in-process
			// otherwise (dev mode).
			var store repository.Store
			var pg *pgstore.Store
			if cfg.Storage.DSN != "" {
				pg, err = pgstore.Open(ctx, cfg.Storage.DSN,
					cfg.Storage.Postgres.MaxConns,
					config.ParseDur(cfg.Storage.Postgres.ConnMaxLifetime, 30*time.Minute))
				if err != nil {
					return fmt.Errorf("postgres open: %w", err)
				}
				store = pg
				log.Info("store: postgres")
			} else {
				store = memstore.New()
				log.Warn("store: in-memory, data will not survive restarts")
			}
			defer store.Close()

			// Cache + rate limiting share the Redis client when configured.
			var appCache cache.Cache
			var loginLimiter, sessionLimiter rate.Limiter
			switch cfg.Cache.Kind {
			case "redis":
				client := rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
				appCache = redcache.NewFromClient(client, cfg.Cache.Redis.Prefix)
				if cfg.Rate.Enabled {
					loginLimiter = rate.NewRedisLimiter(client, "rl:login:",
						cfg.Rate.Login.Limit, config.ParseDur(cfg.Rate.Login.Window, time.Minute))
					sessionLimiter = rate.NewRedisLimiter(client, "rl:session:",
						cfg.Rate.Session.Limit, config.ParseDur(cfg.Rate.Session.Window, time.Minute))
				}
			default:
				appCache = memcache.New(config.ParseDur(cfg.Cache.Memory.DefaultTTL, 2*time.Minute))
				if cfg.Rate.Enabled {
					loginLimiter = rate.NewMemoryLimiter(cfg.Rate.Login.Limit,
						config.ParseDur(cfg.Rate.Login.Window, time.Minute))
					sessionLimiter = rate.NewMemoryLimiter(cfg.Rate.Session.Limit,
						config.ParseDur(cfg.Rate.Session.Window, time.Minute))
				}
			}

			// Token verification chain: JWKS cache → validator → provider.
			keys := jwks.NewCache(cfg.Auth.JWKSURL,
				config.ParseDur(cfg.Auth.KeyRefresh, time.Hour), nil)
			validator := &token.Validator{
				Issuer:   cfg.Auth.Issuer,
				Audience: cfg.Auth.ProjectID,
				Keys:     keys,
			}
			provider := idp.NewRESTClient(cfg.IDP.BaseURL, cfg.IDP.APIKey,
				config.ParseDur(cfg.IDP.Timeout, 5*time.Second), validator)

			metricsHandler, err := metrics.Register(nil)
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			if pg != nil {
				if err := metrics.RegisterPool(nil, pg.Pool); err != nil {
					return fmt.Errorf("metrics pool: %w", err)
				}
			}

			edge := gate.New(gate.Config{
				Validator:     validator,
				SessionCookie: cfg.Auth.SessionCookie,
				CSRFCookie:    cfg.Auth.CSRFCookie,
				LoginPath:     cfg.Auth.LoginPath,
				Metrics:       metrics.GateCounter{},
			})

			authz := &authorizer.Authorizer{
				Provider:      provider,
				Admins:        store.Admins(),
				SessionCookie: cfg.Auth.SessionCookie,
				CSRFCookie:    cfg.Auth.CSRFCookie,
			}

			var mailer email.Sender
			if cfg.Email.Enabled {
				mailer = email.NewSMTPSender(cfg.Email.Host, cfg.Email.Port,
					cfg.Email.Username, cfg.Email.Password, cfg.Email.From)
			}

			catalogSvc := catalog.NewService(store, appCache, config.ParseDur(cfg.Cache.Memory.DefaultTTL, 2*time.Minute))
			orderSvc := orders.NewService(store)
			inventorySvc := inventory.NewService(store, mailer)

			handler := httpserver.NewRouter(httpserver.RouterDeps{
				Gate: edge,
				Session: &httpserver.SessionController{
					Provider:      provider,
					SessionCookie: cfg.Auth.SessionCookie,
				},
				Login: &httpserver.LoginController{
					NewMachine: func(sessions login.SessionStore) *login.Machine {
						return login.New(login.Config{Provider: provider, Sessions: sessions})
					},
					SessionCookie: cfg.Auth.SessionCookie,
				},
				Admin: &httpserver.AdminController{
					Authz:     authz,
					Orders:    orderSvc,
					Catalog:   catalogSvc,
					Inventory: inventorySvc,
					Store:     store,
				},
				Shop: &httpserver.ShopController{
					Catalog:  catalogSvc,
					Orders:   orderSvc,
					Waitlist: store.Waitlist(),
					Mailer:   mailer,
				},
				Health:             &httpserver.HealthController{Store: store},
				CSRFCookie:         cfg.Auth.CSRFCookie,
				LoginLimiter:       loginLimiter,
				SessionLimiter:     sessionLimiter,
				CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
				MetricsHandler:     metricsHandler,
			})

			log.Info("listening", logger.Any("addr", cfg.Server.Addr))
			return httpserver.Serve(ctx, cfg.Server.Addr, handler)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.DSN == "" {
				return fmt.Errorf("migrate: storage.dsn is required")
			}

			ctx := context.Background()
			store, err := pgstore.Open(ctx, cfg.Storage.DSN, 2, 0)
			if err != nil {
				return err
			}
			defer store.Close()

			suffix := "_up.sql"
			if down {
				suffix = "_down.sql"
			}
			files, err := listMigrations(suffix, down)
			if err != nil {
				return err
			}
			for _, name := range files {
				sql, err := fs.ReadFile(migrations.FS, name)
				if err != nil {
					return err
				}
				if _, err := store.Pool().Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("migrate %s: %w", name, err)
				}
				logger.Named("migrate").Info("applied", logger.Any("file", name))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll the schema back instead")
	return cmd
}

// listMigrations returns the embedded files with the given suffix, in
// apply order: ascending for up, descending for down.
func listMigrations(suffix string, reverse bool) ([]string, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func seedCmd(configPath *string) *cobra.Command {
	var adminSub, adminEmail string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a super admin and sample catalog data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.DSN == "" {
				return fmt.Errorf("seed: storage.dsn is required")
			}
			if adminSub == "" || adminEmail == "" {
				return fmt.Errorf("seed: --admin-sub and --admin-email are required")
			}

			ctx := context.Background()
			store, err := pgstore.Open(ctx, cfg.Storage.DSN, 2, 0)
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now().UTC()
			if err := store.Admins().Upsert(ctx, &domain.Admin{
				Sub:       adminSub,
				Email:     adminEmail,
				Role:      domain.RoleSuperAdmin,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("seed admin: %w", err)
			}

			catalogSvc := catalog.NewService(store, nil, 0)
			samples := []domain.Product{
				{SKU: "TEE-CLASSIC-M", Name: "Classic Tee (M)", PriceCents: 1999, Currency: "USD", Stock: 25, Active: true},
				{SKU: "MUG-LOGO", Name: "Logo Mug", PriceCents: 1249, Currency: "USD", Stock: 40, Active: true},
				{SKU: "STICKER-PACK", Name: "Sticker Pack", PriceCents: 499, Currency: "USD", Stock: 0, Active: true},
			}
			for i := range samples {
				if err := catalogSvc.Create(ctx, &samples[i]); err != nil {
					if err == repository.ErrConflict {
						continue
					}
					return fmt.Errorf("seed product %s: %w", samples[i].SKU, err)
				}
			}
			logger.Named("seed").Info("seed complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&adminSub, "admin-sub", "", "provider subject of the first super admin")
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "email of the first super admin")
	return cmd
}
