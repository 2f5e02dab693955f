package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"clipgen/internal/infra"
	"clipgen/internal/infra/credentials"
)

var envKeys = map[string]string{
	credentials.ProviderBytePlus: "BYTEPLUS_API_KEY",
	credentials.ProviderRunware:  "RUNWARE_API_KEY",
	credentials.ProviderEvolink:  "EVOLINK_API_KEY",
}

func main() {
	_ = godotenv.Load()

	var (
		keyFlag      string
		providerFlag string
		deleteFlag   bool
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the selected vendor (falls back to the vendor's environment variable)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderBytePlus, "Vendor to configure ("+strings.Join(credentials.Providers, ", ")+")")
	flag.BoolVar(&deleteFlag, "delete", false, "Remove the stored key so the vendor falls back to its environment key")
	flag.Parse()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	envKey, ok := envKeys[provider]
	if !ok {
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(envKey))
	}
	if key == "" && !deleteFlag {
		fmt.Fprintf(os.Stderr, "%s API key is required via -key or %s\n", strings.ToUpper(provider), envKey)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger(&infra.Config{AppEnv: "cli", ServiceName: "clipgen", BuildVersion: "cli"}).
		With().Str("cmd", "vendorkey").Str("provider", provider).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if deleteFlag {
		if err := store.DeleteToken(ctx, provider); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove %s api key: %v\n", provider, err)
			os.Exit(1)
		}
		fmt.Printf("%s API key removed\n", strings.ToUpper(provider))
		return
	}

	if err := store.SetToken(ctx, provider, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s api key: %v\n", provider, err)
		os.Exit(1)
	}

	fmt.Printf("%s API key stored successfully\n", strings.ToUpper(provider))
}
