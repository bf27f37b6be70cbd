package config

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecretsManager struct {
	calls  atomic.Int32
	secret *string
	err    error
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{ARN: params.SecretId, SecretString: f.secret}, nil
}

func strPtr(s string) *string { return &s }

func TestSecretRef_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ref     SecretRef
		wantErr bool
	}{
		{"insecure", SecretRef{InsecureValue: "x"}, false},
		{"env", SecretRef{EnvVar: "PGPASSWORD"}, false},
		{"aws with key", SecretRef{AwsSecretArn: "arn:x", Key: "password"}, false},
		{"aws without key", SecretRef{AwsSecretArn: "arn:x"}, true},
		{"none", SecretRef{}, true},
		{"two sources", SecretRef{InsecureValue: "x", EnvVar: "Y"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSecretRef_StringHidesValue(t *testing.T) {
	if got := (SecretRef{InsecureValue: "hunter2"}).String(); got != "insecure:***" {
		t.Errorf("String() = %q", got)
	}
	if got := (SecretRef{EnvVar: "DB_PASSWORD"}).String(); got != "env:DB_PASSWORD" {
		t.Errorf("String() = %q", got)
	}
}

func TestSecretCache_AWSIsCached(t *testing.T) {
	client := &fakeSecretsManager{secret: strPtr(`{"password": "s3cret", "port": 5432}`)}
	cache := NewSecretCache(client)
	ref := SecretRef{AwsSecretArn: "arn:aws:secretsmanager:us-east-1:1:secret:db", Key: "password"}

	for range 3 {
		got, err := cache.Get(context.Background(), ref)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != "s3cret" {
			t.Errorf("Get = %q", got)
		}
	}
	if n := client.calls.Load(); n != 1 {
		t.Errorf("expected 1 Secrets Manager call, got %d", n)
	}

	if _, err := cache.Get(context.Background(), SecretRef{AwsSecretArn: ref.AwsSecretArn, Key: "port"}); err == nil {
		t.Error("expected error for non-string key")
	}
	if _, err := cache.Get(context.Background(), SecretRef{AwsSecretArn: ref.AwsSecretArn, Key: "user"}); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestSecretCache_AWSErrors(t *testing.T) {
	cache := NewSecretCache(&fakeSecretsManager{err: errors.New("access denied")})
	_, err := cache.Get(context.Background(), SecretRef{AwsSecretArn: "arn:x", Key: "k"})
	if err == nil {
		t.Fatal("expected error")
	}

	cache = NewSecretCache(&fakeSecretsManager{secret: strPtr("not json")})
	if _, err := cache.Get(context.Background(), SecretRef{AwsSecretArn: "arn:y", Key: "k"}); err == nil {
		t.Fatal("expected JSON error")
	}
}

func TestSecretCache_RejectsDuplicateKeys(t *testing.T) {
	client := &fakeSecretsManager{secret: strPtr(`{"password": "old", "password": "new"}`)}
	cache := NewSecretCache(client)
	ref := SecretRef{AwsSecretArn: "arn:aws:secretsmanager:us-east-1:1:secret:dup", Key: "password"}
	if got, err := cache.Get(context.Background(), ref); err == nil {
		t.Fatalf("expected error for ambiguous secret, got %q", got)
	}
}

func TestSecretCache_MissingEnv(t *testing.T) {
	cache := NewSecretCache(nil)
	cache.LookupEnv = func(string) (string, bool) { return "", false }
	if _, err := cache.Get(context.Background(), SecretRef{EnvVar: "NOPE"}); err == nil {
		t.Fatal("expected error for unset variable")
	}
}
