package deliver

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

// AWSSecretsManagerSink stores private keys in AWS Secrets Manager,
// one secret per account. Rotated keys become new versions of the same
// secret.
type AWSSecretsManagerSink struct {
	client SecretsManagerClientAPI
	region string
}

// AWSSinkOption is a functional option for configuring the sink
type AWSSinkOption func(*AWSSecretsManagerSink)

// WithSecretsManagerClient sets a custom client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSSinkOption {
	return func(s *AWSSecretsManagerSink) {
		s.client = client
	}
}

// AWSSinkConfig holds AWS-specific sink configuration.
type AWSSinkConfig struct {
	Region string `yaml:"region"`

	// Static credentials for testing against LocalStack; normally the
	// default credential chain applies.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
}

// NewAWSSecretsManagerSink creates the sink, building a real client
// unless one was injected.
func NewAWSSecretsManagerSink(ctx context.Context, sinkConfig AWSSinkConfig, opts ...AWSSinkOption) (*AWSSecretsManagerSink, error) {
	region := sinkConfig.Region
	if region == "" {
		region = "us-east-1"
	}

	s := &AWSSecretsManagerSink{region: region}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		configOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
		if sinkConfig.AccessKeyID != "" && sinkConfig.SecretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(sinkConfig.AccessKeyID, sinkConfig.SecretAccessKey, ""),
			))
		}
		cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if sinkConfig.Endpoint != "" {
			endpoint := sinkConfig.Endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

func (s *AWSSecretsManagerSink) Name() string {
	return "aws-secrets-manager"
}

func (s *AWSSecretsManagerSink) Store(ctx context.Context, username string, privateKeyPEM []byte) error {
	name := secretName(username)

	_, err := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(privateKeyPEM)),
		Description:  aws.String(fmt.Sprintf("Warehouse private key for %s", username)),
	})
	if err == nil {
		return nil
	}

	var exists *types.ResourceExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("failed to create secret %s: %w", name, err)
	}

	// Secret exists from a prior issuance; add the rotated key as a
	// new version.
	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(privateKeyPEM)),
	})
	if err != nil {
		return fmt.Errorf("failed to update secret %s: %w", name, err)
	}
	return nil
}
