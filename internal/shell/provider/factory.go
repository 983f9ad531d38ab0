package provider

import (
	"fmt"
	"log/slog"

	"github.com/casebake/bakery/internal/core/domain"
	coreprovider "github.com/casebake/bakery/internal/core/provider"
)

// NewProvider creates a cloud provider client from decrypted credentials JSON.
func NewProvider(providerType domain.ProviderType, credJSON []byte, logger *slog.Logger) (Provider, error) {
	switch providerType {
	case domain.ProviderAWS:
		creds, err := coreprovider.ParseAWSCredentials(credJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid AWS credentials: %w", err)
		}
		return NewAWSProvider(creds.AccessKeyID, creds.SecretAccessKey, logger), nil

	case domain.ProviderDigitalOcean:
		creds, err := coreprovider.ParseDigitalOceanCredentials(credJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid DigitalOcean credentials: %w", err)
		}
		return NewDigitalOceanProvider(creds.APIToken, logger), nil

	case domain.ProviderHetzner:
		creds, err := coreprovider.ParseHetznerCredentials(credJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid Hetzner credentials: %w", err)
		}
		return NewHetznerProvider(creds.APIToken, logger), nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}
