package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/casebake/bakery/internal/core/domain"
)

func TestValidateCredentialsJSON(t *testing.T) {
	tests := []struct {
		name     string
		provider domain.ProviderType
		json     string
		wantErr  error
	}{
		{
			name:     "valid aws",
			provider: domain.ProviderAWS,
			json:     `{"access_key_id":"AKIAEXAMPLE","secret_access_key":"secret"}`,
		},
		{
			name:     "aws missing secret",
			provider: domain.ProviderAWS,
			json:     `{"access_key_id":"AKIAEXAMPLE"}`,
			wantErr:  ErrAWSSecretKeyRequired,
		},
		{
			name:     "valid digitalocean",
			provider: domain.ProviderDigitalOcean,
			json:     `{"api_token":"dop_v1_example"}`,
		},
		{
			name:     "digitalocean missing token",
			provider: domain.ProviderDigitalOcean,
			json:     `{}`,
			wantErr:  ErrDOTokenRequired,
		},
		{
			name:     "valid hetzner",
			provider: domain.ProviderHetzner,
			json:     `{"api_token":"hcloud_example"}`,
		},
		{
			name:     "hetzner missing token",
			provider: domain.ProviderHetzner,
			json:     `{}`,
			wantErr:  ErrHetznerTokenRequired,
		},
		{
			name:     "unknown provider",
			provider: domain.ProviderType("linode"),
			json:     `{"api_token":"x"}`,
			wantErr:  ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentialsJSON(tt.provider, []byte(tt.json))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCredentialsJSON_MalformedJSON(t *testing.T) {
	err := ValidateCredentialsJSON(domain.ProviderAWS, []byte("{not json"))
	assert.Error(t, err)
}

func TestCatalogDefaults(t *testing.T) {
	for _, p := range []domain.ProviderType{
		domain.ProviderAWS,
		domain.ProviderDigitalOcean,
		domain.ProviderHetzner,
	} {
		assert.NotEmptyf(t, DefaultRegion(p), "provider %s has no default region", p)
		assert.NotEmptyf(t, DefaultSize(p), "provider %s has no default size", p)
		assert.Truef(t, KnownRegion(p, DefaultRegion(p)), "provider %s default region not in catalog", p)
		assert.NotNilf(t, LookupSize(p, DefaultSize(p)), "provider %s default size not in catalog", p)
	}
}

func TestLookupSize_Unknown(t *testing.T) {
	assert.Nil(t, LookupSize(domain.ProviderAWS, "t2.nano"))
	assert.Nil(t, LookupSize(domain.ProviderType("linode"), "anything"))
}
