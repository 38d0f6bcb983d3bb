package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/clients/kite"
	"github.com/aristath/frontier/internal/config"
)

const kiteValidateTimeout = 30 * time.Second

// InitializeClients creates and validates the Kite Connect client. Invalid
// or missing credentials are fatal unless DEV_MODE is set, in which case the
// service runs from the price cache alone.
func InitializeClients(container *Container, cfg *config.Config, log zerolog.Logger) error {
	accessToken, err := resolveAccessToken(cfg)
	if err == nil && cfg.KiteAPIKey == "" {
		err = fmt.Errorf("KITE_API_KEY is not set")
	}
	if err != nil {
		if cfg.DevMode {
			log.Warn().Err(err).Msg("Running without market data provider (dev mode)")
			return nil
		}
		return fmt.Errorf("kite credentials not configured: %w", err)
	}

	client := kite.NewClient(cfg.KiteAPIKey, accessToken, log, kite.WithBaseURL(cfg.KiteBaseURL))

	ctx, cancel := context.WithTimeout(context.Background(), kiteValidateTimeout)
	defer cancel()

	if _, err := client.Validate(ctx); err != nil {
		if cfg.DevMode {
			log.Warn().Err(err).Msg("Kite session invalid, continuing in dev mode")
		} else {
			client.Close()
			return err
		}
	}

	container.KiteClient = client
	return nil
}

// resolveAccessToken prefers KITE_ACCESS_TOKEN over the token file
func resolveAccessToken(cfg *config.Config) (string, error) {
	if cfg.KiteAccessToken != "" {
		return cfg.KiteAccessToken, nil
	}
	if cfg.KiteTokenFile == "" {
		return "", fmt.Errorf("neither KITE_ACCESS_TOKEN nor KITE_TOKEN_FILE is set")
	}
	return kite.ReadTokenFile(cfg.KiteTokenFile)
}
