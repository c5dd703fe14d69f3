package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/config"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/credentials"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/database"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/identity"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/linking"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/lockstate"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/logging"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/metrics"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/rooms"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/server"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/smarthome"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/users"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "locksure-gateway",
		Short: "Alexa smart home gateway for Locksure door locks",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newUsersCommand(), newRoomsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("trusted-proxies", nil, "Proxy addresses or CIDRs whose X-Forwarded-For is trusted")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("linking-mode", defaults.GetString("linking.mode"), "Account linking mode (form, provider)")
	cmd.PersistentFlags().String("access-token", defaults.GetString("linking.access_token"), "Access token strategy (token_map, uid)")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Code and token store (sqlite, redis)")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for store-driver=redis")
	cmd.PersistentFlags().String("identity-driver", defaults.GetString("identity.driver"), "Sign-in identity backend (local, firebase)")
	cmd.PersistentFlags().String("client-secret", "", "Assistant client secret for /token (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.trusted_proxies", "trusted-proxies")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "linking.mode", "linking-mode")
	bindFlag(cmd, "linking.access_token", "access-token")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "identity.driver", "identity-driver")
	bindFlag(cmd, "linking.client_secret", "client-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type codeAndTokenStore interface {
	linking.CodeStore
	linking.TokenStore
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	roomService, err := rooms.NewService(rooms.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}

	store, err := openLinkingStore(ctx, appConfig, db)
	if err != nil {
		return err
	}

	linkingConfig := linking.ServiceConfig{
		Mode:           linking.ModeForm,
		TokenStrategy:  linking.TokenStrategyTokenMap,
		TokenExpiresIn: appConfig.TokenExpiresIn,
		FormAction:     appConfig.FormAction,
		Codes:          store,
		Tokens:         store,
		Recorder:       collector,
		Logger:         logger,
	}
	if appConfig.AccessTokenMode == config.AccessTokenUID {
		linkingConfig.TokenStrategy = linking.TokenStrategyUserID
	}
	if err := configureIdentity(&linkingConfig, appConfig, userService, logger); err != nil {
		return err
	}
	linkingService, err := linking.NewService(linkingConfig)
	if err != nil {
		return err
	}

	resolver := credentials.NewResolver(credentials.ResolverConfig{
		AcceptDirectUserID: appConfig.AcceptDirectUserID,
		Legacy:             userService,
		Tokens:             store,
		Logger:             logger,
	})

	codec, err := lockstate.NewTable(lockstate.TableConfig{
		UnknownLockState:  lockstate.LockState(appConfig.UnknownLockState),
		UnlockedDetection: lockstate.DetectionState(appConfig.UnlockedDetection),
	})
	if err != nil {
		return err
	}

	directiveRouter, err := smarthome.NewRouter(smarthome.RouterConfig{
		Rooms:            roomService,
		Credentials:      resolver,
		Codec:            codec,
		VerifyOwnership:  appConfig.VerifyOwnership,
		ActuationEnabled: appConfig.ActuationEnabled,
		ContactSensor:    appConfig.ContactSensor,
		ManufacturerName: appConfig.ManufacturerName,
		Recorder:         collector,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Linking:    linkingService,
		Directives: directiveRouter,
		Client: server.ClientCredentials{
			ClientID:     appConfig.ClientID,
			ClientSecret: appConfig.ClientSecret,
		},
		AuthRateLimit: server.RateLimitConfig{
			PerMinute: appConfig.AuthRatePerMinute,
			Burst:     appConfig.AuthRateBurst,
		},
		MetricsHandler: metrics.Handler(registry),
		TrustedProxies: appConfig.HTTPTrustedProxies,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("linking_mode", appConfig.LinkingMode),
			zap.String("access_token", appConfig.AccessTokenMode),
			zap.String("store_driver", appConfig.StoreDriver),
			zap.Bool("client_auth", appConfig.ClientAuthEnforced()),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openLinkingStore(ctx context.Context, appConfig config.AppConfig, db *gorm.DB) (codeAndTokenStore, error) {
	if appConfig.StoreDriver == config.StoreDriverRedis {
		client, err := linking.NewRedisClient(ctx, appConfig.RedisAddress, appConfig.RedisPassword)
		if err != nil {
			return nil, err
		}
		return linking.NewRedisStore(client)
	}
	return linking.NewGormStore(db)
}

// configureIdentity fills the sign-in and provider collaborators of the linking service.
func configureIdentity(linkingConfig *linking.ServiceConfig, appConfig config.AppConfig, userService *users.Service, logger *zap.Logger) error {
	var idTokens identity.TokenVerifier
	if appConfig.IDTokenAudience != "" {
		issuers := appConfig.IDTokenIssuers
		if len(issuers) == 0 {
			issuers = identity.FirebaseIssuers(appConfig.IDTokenAudience)
		}
		verifier, err := identity.NewIDTokenVerifier(identity.IDTokenVerifierConfig{
			Audience:       appConfig.IDTokenAudience,
			JWKSURL:        appConfig.JWKSURL,
			AllowedIssuers: issuers,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		idTokens = verifier
	}

	if appConfig.LinkingMode == config.LinkingModeProvider {
		provider, err := identity.NewOAuthProvider(identity.ProviderConfig{
			AuthURL:      appConfig.ProviderAuthURL,
			TokenURL:     appConfig.ProviderTokenURL,
			ClientID:     appConfig.ProviderClientID,
			ClientSecret: appConfig.ProviderClientSecret,
			Scopes:       appConfig.ProviderScopes,
			CallbackURL:  appConfig.ProviderCallbackURL,
			IDTokens:     idTokens,
		})
		if err != nil {
			return err
		}
		linkingConfig.Mode = linking.ModeProvider
		linkingConfig.Provider = provider
		return nil
	}

	if appConfig.IdentityDriver == config.IdentityDriverFirebase {
		firebase, err := identity.NewFirebasePasswordVerifier(identity.FirebasePasswordConfig{
			APIKey:   appConfig.FirebaseAPIKey,
			Endpoint: appConfig.FirebaseEndpoint,
			IDTokens: idTokens,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		linkingConfig.Passwords = firebase
		return nil
	}

	linkingConfig.Passwords = userService
	return nil
}
