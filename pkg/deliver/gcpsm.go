package deliver

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

// SecretManagerClientAPI defines the interface for GCP Secret Manager operations
// This allows for mocking in tests
type SecretManagerClientAPI interface {
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
}

// GCPSecretManagerSink stores private keys in Google Cloud Secret
// Manager, one secret per account with automatic replication.
type GCPSecretManagerSink struct {
	client    SecretManagerClientAPI
	projectID string
}

// GCPSinkConfig holds GCP-specific sink configuration.
type GCPSinkConfig struct {
	ProjectID             string `yaml:"project_id"`
	ServiceAccountKeyPath string `yaml:"service_account_key_path,omitempty"`
	ImpersonateAccount    string `yaml:"impersonate_service_account,omitempty"`
}

// GCPSinkOption is a functional option for configuring the sink
type GCPSinkOption func(*GCPSecretManagerSink)

// WithSecretManagerClient sets a custom client (for testing)
func WithSecretManagerClient(client SecretManagerClientAPI) GCPSinkOption {
	return func(s *GCPSecretManagerSink) {
		s.client = client
	}
}

// NewGCPSecretManagerSink creates the sink, building a real client
// unless one was injected.
func NewGCPSecretManagerSink(ctx context.Context, sinkConfig GCPSinkConfig, opts ...GCPSinkOption) (*GCPSecretManagerSink, error) {
	if sinkConfig.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required for the GCP sink")
	}

	s := &GCPSecretManagerSink{projectID: sinkConfig.ProjectID}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var clientOpts []option.ClientOption
		if sinkConfig.ServiceAccountKeyPath != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(sinkConfig.ServiceAccountKeyPath))
		}
		if sinkConfig.ImpersonateAccount != "" {
			ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
				TargetPrincipal: sinkConfig.ImpersonateAccount,
				Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to impersonate %s: %w", sinkConfig.ImpersonateAccount, err)
			}
			clientOpts = append(clientOpts, option.WithTokenSource(ts))
		}

		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

func (s *GCPSecretManagerSink) Name() string {
	return "gcp-secret-manager"
}

func (s *GCPSecretManagerSink) Store(ctx context.Context, username string, privateKeyPEM []byte) error {
	secretID := secretName(username)

	_, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   fmt.Sprintf("projects/%s", s.projectID),
		SecretId: secretID,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil && !strings.Contains(err.Error(), "AlreadyExists") {
		return fmt.Errorf("failed to create secret %s: %w", secretID, err)
	}

	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: fmt.Sprintf("projects/%s/secrets/%s", s.projectID, secretID),
		Payload: &secretmanagerpb.SecretPayload{
			Data: privateKeyPEM,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add secret version for %s: %w", secretID, err)
	}
	return nil
}
