// Command oracled serves decryption requests for auctiond's remote oracle mode. Inside a
// Nitro enclave it listens on vsock and attests its signing key.
//
// Environment:
//
//	ORACLE_LISTEN       listen address, host:port or vsock://:port (default vsock://:5000)
//	ORACLE_KEY_FILE     capability key material shared with auctiond (required)
//	ORACLE_MAX_WORKERS  concurrent connections (required)
//	ORACLE_ATTESTER     nitro | none (default nitro)
//	ORACLE_LOG_LEVEL    zap level (default info)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/config"
	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/logging"
	"github.com/cloudx-io/sealedvwap/oracle"
)

func main() {
	genKeys := flag.String("gen-keys", "", "write fresh capability key material to this path and exit")
	flag.Parse()

	if *genKeys != "" {
		if err := generateKeys(*genKeys); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote key material to %s\n", *genKeys)
		return
	}

	logger, err := logging.New(config.LogConfig{Level: envOr("ORACLE_LOG_LEVEL", "info"), Encoding: "json"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("oracled exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	keyFile := os.Getenv("ORACLE_KEY_FILE")
	if keyFile == "" {
		return fmt.Errorf("required environment variable ORACLE_KEY_FILE is not set")
	}
	keys, err := fhe.ReadKeyFile(keyFile)
	if err != nil {
		return err
	}
	backend, err := fhe.NewSealedBackendWithKeys(keys)
	if err != nil {
		return err
	}
	logger.Info("Capability keys loaded", zap.String("key_file", keyFile))

	maxWorkers, err := getRequiredEnvInt("ORACLE_MAX_WORKERS")
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}

	var attester oracle.EnclaveAttester
	switch mode := envOr("ORACLE_ATTESTER", "nitro"); mode {
	case "nitro":
		attester, err = oracle.NitroAttester()
		if err != nil {
			return err
		}
	case "none":
		logger.Warn("Running without attestation; key responses carry no attestation document")
	default:
		return fmt.Errorf("ORACLE_ATTESTER %q: want nitro or none", mode)
	}

	signer, err := oracle.NewSigner()
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	o := oracle.New(backend, signer, oracle.WithLogger(logger))

	listener, err := oracle.Listen(envOr("ORACLE_LISTEN", "vsock://:5000"))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return oracle.NewServer(o, attester, maxWorkers, logger).Serve(ctx, listener)
}

func generateKeys(path string) error {
	keys, err := fhe.NewKeyManager()
	if err != nil {
		return fmt.Errorf("failed to generate keys: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing key file %s", path)
	}
	return fhe.WriteKeyFile(path, keys)
}

func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}
	return intValue, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
