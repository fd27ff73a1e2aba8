// Command auctiond runs the sealed-bid VWAP auction service: the HTTP API, the keeper
// and either an in-process decryption oracle or a client for a remote one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/api"
	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/auction"
	"github.com/cloudx-io/sealedvwap/config"
	"github.com/cloudx-io/sealedvwap/events"
	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/keeper"
	"github.com/cloudx-io/sealedvwap/logging"
	"github.com/cloudx-io/sealedvwap/oracle"
	"github.com/cloudx-io/sealedvwap/oracleapi"
	"github.com/cloudx-io/sealedvwap/validation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	envOnly := flag.Bool("env-only", false, "skip the config file and read SEALEDVWAP_* variables only")
	issueToken := flag.String("issue-token", "", "print a bearer token for this account and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	jwt := api.JWT{Secret: []byte(cfg.HTTP.JWTSecret), TokenTTL: cfg.HTTP.TokenTTL}
	if *issueToken != "" {
		token, expiresAt, err := jwt.Sign(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format("2006-01-02T15:04:05Z07:00"))
		return
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, jwt, logger); err != nil {
		logger.Error("auctiond exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, jwt api.JWT, logger *zap.Logger) error {
	ledger, closeLedger, err := openLedger(ctx, cfg.Assets, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	backend, err := openBackend(cfg.FHE)
	if err != nil {
		return err
	}
	encryptionKey, err := backend.Keys().PublicKeyPEM()
	if err != nil {
		return fmt.Errorf("failed to encode encryption key: %w", err)
	}

	sink := events.Multi{events.LogSink{Logger: logger.Named("events")}}
	if cfg.Events.Redis.Enabled {
		client := events.NewRedisClient(cfg.Events.Redis.Addr, cfg.Events.Redis.Password, cfg.Events.Redis.DB)
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Events.Redis.Addr, err)
		}
		sink = append(sink, events.NewRedisSink(client, cfg.Events.Redis.Channel, logger))
		logger.Info("Publishing auction events to redis", zap.String("channel", cfg.Events.Redis.Channel))
	}

	decryptions, err := openOracle(ctx, cfg.Oracle, backend, logger)
	if err != nil {
		return err
	}
	defer decryptions.stop()

	engine := auction.New(ledger, backend, decryptions.requester, decryptions.verifier,
		auction.WithLogger(logger.Named("auction")),
		auction.WithSink(sink),
		auction.WithEscrowAccount(cfg.Engine.EscrowAccount),
		auction.WithPublicFinalizeAfter(cfg.Engine.PublicFinalizeAfter),
	)
	decryptions.setCallback(engine.OnDecrypted)

	if cfg.Keeper.Enabled {
		k := keeper.New(engine, cfg.Keeper.Account, logger.Named("keeper"))
		if err := k.Schedule(ctx, cfg.Keeper.Schedule); err != nil {
			return fmt.Errorf("failed to schedule keeper: %w", err)
		}
		k.Start()
		defer k.Stop()
		logger.Info("Keeper started", zap.String("schedule", cfg.Keeper.Schedule), zap.String("account", cfg.Keeper.Account))
	}

	handler := api.NewHandler(engine, ledger, jwt, encryptionKey, cfg.Assets.Decimals(), logger.Named("api"))
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type minter interface {
	assets.Ledger
	mint(ctx context.Context, account, asset string, amount uint64) error
}

type memoryMinter struct{ *assets.MemoryLedger }

func (m memoryMinter) mint(_ context.Context, account, asset string, amount uint64) error {
	return m.Mint(account, asset, amount)
}

type postgresMinter struct{ *assets.PostgresLedger }

func (p postgresMinter) mint(ctx context.Context, account, asset string, amount uint64) error {
	return p.Mint(ctx, account, asset, amount)
}

func openLedger(ctx context.Context, cfg config.AssetsConfig, logger *zap.Logger) (assets.Ledger, func(), error) {
	var (
		ledger  minter
		closeFn = func() {}
	)
	switch cfg.Driver {
	case "postgres":
		pg, err := assets.NewPostgresLedger(ctx, &cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres ledger: %w", err)
		}
		ledger = postgresMinter{pg}
		closeFn = func() {
			if err := pg.Close(); err != nil {
				logger.Warn("Failed to close postgres ledger", zap.Error(err))
			}
		}
		logger.Info("Using postgres asset ledger", zap.String("host", cfg.Postgres.Host), zap.String("database", cfg.Postgres.Database))
	default:
		ledger = memoryMinter{assets.NewMemoryLedger()}
		logger.Warn("Using in-memory asset ledger; balances are lost on restart")
	}

	for _, m := range cfg.Mints {
		if err := ledger.mint(ctx, m.Account, m.Asset, m.Amount); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("failed to mint %d %s to %s: %w", m.Amount, m.Asset, m.Account, err)
		}
		logger.Info("Minted", zap.String("account", m.Account), zap.String("asset", m.Asset), zap.Uint64("amount", m.Amount))
	}
	return ledger, closeFn, nil
}

func openBackend(cfg config.FHEConfig) (*fhe.SealedBackend, error) {
	if cfg.KeyFile == "" {
		return fhe.NewSealedBackend()
	}
	keys, err := fhe.ReadKeyFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return fhe.NewSealedBackendWithKeys(keys)
}

type oracleLink struct {
	requester   fhe.DecryptionRequester
	verifier    auction.ProofVerifier
	setCallback func(oracle.Callback)
	stop        func()
}

func openOracle(ctx context.Context, cfg config.OracleConfig, backend *fhe.SealedBackend, logger *zap.Logger) (*oracleLink, error) {
	if cfg.Mode != "remote" {
		signer, err := oracle.NewSigner()
		if err != nil {
			return nil, fmt.Errorf("failed to create oracle signer: %w", err)
		}
		verifier, err := validation.NewDecryptionVerifier(signer.PublicKey())
		if err != nil {
			return nil, err
		}
		o := oracle.New(backend, signer, oracle.WithLogger(logger.Named("oracle")), oracle.WithQueueSize(cfg.QueueSize))
		o.Start(ctx, cfg.Workers)
		logger.Info("Started in-process decryption oracle", zap.Int("workers", cfg.Workers))
		return &oracleLink{requester: o, verifier: verifier, setCallback: o.SetCallback, stop: o.Stop}, nil
	}

	dial, err := oracle.ParseDialer(cfg.Address)
	if err != nil {
		return nil, err
	}
	client := oracle.NewClient(dial, cfg.Timeout, logger.Named("oracle-client"))
	key, err := client.Key(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to fetch oracle signing key from %s: %w", cfg.Address, err)
	}
	if err := checkOracleKey(cfg, key.PublicKey, key.AttestationCOSEBase64, logger); err != nil {
		client.Close()
		return nil, err
	}
	verifier, err := validation.NewDecryptionVerifierFromPEM(key.PublicKey)
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("Connected to remote decryption oracle", zap.String("address", cfg.Address))
	return &oracleLink{requester: client, verifier: verifier, setCallback: client.SetCallback, stop: client.Close}, nil
}

func checkOracleKey(cfg config.OracleConfig, publicKey string, attestation oracleapi.AttestationCOSEBase64, logger *zap.Logger) error {
	if cfg.PublicKey != "" && strings.TrimSpace(cfg.PublicKey) != strings.TrimSpace(publicKey) {
		return errors.New("oracle signing key does not match oracle.public_key")
	}
	if cfg.AttestationPolicy == "" {
		logger.Warn("Oracle key attestation not checked; set oracle.attestation_policy to enforce it")
		return nil
	}

	policy, err := validation.LoadAttestationPolicy(cfg.AttestationPolicy)
	if err != nil {
		return err
	}
	result, err := validation.ValidateOracleKeyAttestation(attestation, publicKey, policy)
	if err != nil {
		return fmt.Errorf("failed to validate oracle key attestation: %w", err)
	}
	if !result.IsValid() {
		return fmt.Errorf("oracle key attestation rejected: %s", strings.Join(result.ValidationDetails, "; "))
	}
	logger.Info("Oracle key attestation verified")
	return nil
}
