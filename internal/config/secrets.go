package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// LoadSecrets resolves the telegram bot token and database password from
// Vault when enabled, falling back to environment variables. Config file
// values win only when nothing else is set.
func (c *Config) LoadSecrets(ctx context.Context) error {
	if c.Vault.Enabled {
		if err := c.loadVaultSecrets(ctx); err != nil {
			return fmt.Errorf("failed to load secrets from vault: %w", err)
		}
		return nil
	}

	if token := os.Getenv("EDGEWATCH_TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if pw := os.Getenv("EDGEWATCH_DATABASE_PASSWORD"); pw != "" {
		c.Database.Password = pw
	}
	return nil
}

func (c *Config) loadVaultSecrets(ctx context.Context) error {
	vcfg := vault.DefaultConfig()
	if c.Vault.Address != "" {
		vcfg.Address = c.Vault.Address
	}

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}
	if c.Vault.Token != "" {
		client.SetToken(c.Vault.Token)
	}

	secret, err := client.Logical().ReadWithContext(ctx, c.Vault.Path)
	if err != nil {
		return fmt.Errorf("failed to read vault path %s: %w", c.Vault.Path, err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("no secret data at vault path %s", c.Vault.Path)
	}

	// KV v2 nests the payload under "data"
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	if token, ok := data["telegram_bot_token"].(string); ok && token != "" {
		c.Telegram.BotToken = token
	}
	if pw, ok := data["database_password"].(string); ok && pw != "" {
		c.Database.Password = pw
	}

	log.Info().Str("path", c.Vault.Path).Msg("Secrets loaded from vault")
	return nil
}
