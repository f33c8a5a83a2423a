package deliver

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// AzureKeyVaultClientAPI defines the interface for Azure Key Vault operations
// This allows for mocking in tests
type AzureKeyVaultClientAPI interface {
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// AzureKeyVaultSink stores private keys in an Azure Key Vault. SetSecret
// versions existing secrets, so rotation needs no special casing.
type AzureKeyVaultSink struct {
	client   AzureKeyVaultClientAPI
	vaultURL string
}

// AzureSinkConfig holds Azure-specific sink configuration.
type AzureSinkConfig struct {
	VaultURL string `yaml:"vault_url"`

	// Service principal credentials; when absent the default Azure
	// credential chain (env, managed identity, CLI) applies.
	TenantID     string `yaml:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
}

// AzureSinkOption is a functional option for configuring the sink
type AzureSinkOption func(*AzureKeyVaultSink)

// WithAzureKeyVaultClient sets a custom client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureSinkOption {
	return func(s *AzureKeyVaultSink) {
		s.client = client
	}
}

// NewAzureKeyVaultSink creates the sink, building a real client unless
// one was injected.
func NewAzureKeyVaultSink(sinkConfig AzureSinkConfig, opts ...AzureSinkOption) (*AzureKeyVaultSink, error) {
	if sinkConfig.VaultURL == "" {
		return nil, fmt.Errorf("vault_url is required for the Azure sink")
	}

	s := &AzureKeyVaultSink{vaultURL: sinkConfig.VaultURL}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var cred azcore.TokenCredential
		var err error
		if sinkConfig.TenantID != "" && sinkConfig.ClientID != "" && sinkConfig.ClientSecret != "" {
			cred, err = azidentity.NewClientSecretCredential(
				sinkConfig.TenantID, sinkConfig.ClientID, sinkConfig.ClientSecret, nil)
		} else {
			cred, err = azidentity.NewDefaultAzureCredential(nil)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build Azure credential: %w", err)
		}

		client, err := azsecrets.NewClient(sinkConfig.VaultURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

func (s *AzureKeyVaultSink) Name() string {
	return "azure-key-vault"
}

func (s *AzureKeyVaultSink) Store(ctx context.Context, username string, privateKeyPEM []byte) error {
	name := secretName(username)
	value := string(privateKeyPEM)

	_, err := s.client.SetSecret(ctx, name, azsecrets.SetSecretParameters{
		Value: &value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to set secret %s: %w", name, err)
	}
	return nil
}
