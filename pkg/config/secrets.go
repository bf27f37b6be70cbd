package config

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"os"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretRef points at the database password. Exactly one source is set.
type SecretRef struct {
	// AwsSecretArn names a Secrets Manager secret holding a JSON object;
	// Key selects the field.
	AwsSecretArn string `json:"aws_secret_arn,omitempty" yaml:"aws_secret_arn,omitempty"`
	Key          string `json:"key,omitempty" yaml:"key,omitempty"`

	// InsecureValue is the password in plain text. Fine for local containers.
	InsecureValue string `json:"insecure_value,omitempty" yaml:"insecure_value,omitempty"`

	// EnvVar names an environment variable holding the password.
	EnvVar string `json:"env_var,omitempty" yaml:"env_var,omitempty"`
}

// Validate checks that exactly one source is configured.
func (r SecretRef) Validate() error {
	sources := 0
	for _, s := range []string{r.AwsSecretArn, r.InsecureValue, r.EnvVar} {
		if s != "" {
			sources++
		}
	}
	switch {
	case sources == 0:
		return errors.New("secret ref must have one of: aws_secret_arn, insecure_value, or env_var")
	case sources > 1:
		return errors.New("secret ref must have only one of: aws_secret_arn, insecure_value, or env_var")
	case r.AwsSecretArn != "" && r.Key == "":
		return errors.New("aws_secret_arn requires key to be set")
	}
	return nil
}

// String never prints the secret value.
func (r SecretRef) String() string {
	switch {
	case r.AwsSecretArn != "":
		return fmt.Sprintf("aws:%s#%s", r.AwsSecretArn, r.Key)
	case r.EnvVar != "":
		return "env:" + r.EnvVar
	case r.InsecureValue != "":
		return "insecure:***"
	}
	return "unset"
}

// SecretsManagerClient is the subset of the Secrets Manager API we use.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretCache resolves SecretRefs and memoizes Secrets Manager lookups.
type SecretCache struct {
	mu     sync.RWMutex
	cache  map[string]map[string]any
	client SecretsManagerClient

	// LookupEnv resolves EnvVar refs. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// NewSecretCache uses client for ARN refs. A nil client is created from the
// default AWS configuration the first time an ARN ref is resolved, so runs
// that never touch AWS never load its config.
func NewSecretCache(client SecretsManagerClient) *SecretCache {
	return &SecretCache{
		cache:  make(map[string]map[string]any),
		client: client,
	}
}

// Get returns the secret value for ref.
func (sc *SecretCache) Get(ctx context.Context, ref SecretRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}

	if ref.InsecureValue != "" {
		return ref.InsecureValue, nil
	}

	if ref.EnvVar != "" {
		lookup := sc.LookupEnv
		if lookup == nil {
			lookup = os.LookupEnv
		}
		val, ok := lookup(ref.EnvVar)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", ref.EnvVar)
		}
		return val, nil
	}

	if secretData, ok := sc.getCached(ref.AwsSecretArn); ok {
		return extractStringKey(secretData, ref.Key)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	// Another caller may have fetched it while we waited for the lock.
	if secretData, ok := sc.cache[ref.AwsSecretArn]; ok {
		return extractStringKey(secretData, ref.Key)
	}

	secretData, err := sc.fetchSecret(ctx, ref.AwsSecretArn)
	if err != nil {
		return "", err
	}
	sc.cache[ref.AwsSecretArn] = secretData
	return extractStringKey(secretData, ref.Key)
}

func (sc *SecretCache) getCached(arn string) (map[string]any, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	data, ok := sc.cache[arn]
	return data, ok
}

// fetchSecret must be called with mu held.
func (sc *SecretCache) fetchSecret(ctx context.Context, arn string) (map[string]any, error) {
	if sc.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		sc.client = secretsmanager.NewFromConfig(cfg)
	}

	output, err := sc.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", arn, err)
	}
	if output.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", arn)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(*output.SecretString), &data); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s as JSON: %w", arn, err)
	}
	return data, nil
}

func extractStringKey(data map[string]any, key string) (string, error) {
	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret", key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("value at key %q is not a string (got %T)", key, val)
	}
	return str, nil
}
