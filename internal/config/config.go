package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const (
	DefaultPort           = "3000"
	DefaultModelID        = "anthropic.claude-v2"
	DefaultMaxUploadBytes = 5 * 1024 * 1024

	// LambdaMaxUploadBytes keeps a base64 encoded multipart body under the
	// 6 MB Lambda request payload limit.
	LambdaMaxUploadBytes = 4 * 1024 * 1024
)

// ParamStore is the slice of the SSM client used to resolve *_PARAM keys.
type ParamStore interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Config struct {
	Region string
	Port   string

	BucketName      string
	KnowledgeBaseID string
	DataSourceID    string
	ModelID         string

	CognitoClientID     string
	CognitoClientSecret string

	DocumentsTable string
	UploadTopicARN string

	MaxUploadBytes    int64
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration

	LogLevel     string
	RateLimitRPS float64
}

// secretKeys may be given directly or as <KEY>_PARAM naming an SSM parameter.
var secretKeys = []string{
	"S3_BUCKET_NAME",
	"BEDROCK_KNOWLEDGE_BASE_ID",
	"BEDROCK_DATA_SOURCE_ID",
	"COGNITO_CLIENT_ID",
	"COGNITO_CLIENT_SECRET",
	"DOCUMENTS_TABLE",
	"UPLOAD_TOPIC_ARN",
}

// Load reads configuration from the environment. When params is non-nil, keys
// left empty but with a <KEY>_PARAM companion are fetched from SSM.
func Load(ctx context.Context, params ParamStore) (*Config, error) {
	resolved := map[string]string{}
	for _, k := range secretKeys {
		v := getEnv(k, "")
		if v == "" && params != nil {
			if name := getEnv(k+"_PARAM", ""); name != "" {
				pv, err := getParameter(ctx, params, name)
				if err != nil {
					return nil, err
				}
				v = pv
			}
		}
		resolved[k] = v
	}

	cfg := &Config{
		Region:              getEnv("AWS_REGION", ""),
		Port:                getEnv("PORT", DefaultPort),
		BucketName:          resolved["S3_BUCKET_NAME"],
		KnowledgeBaseID:     resolved["BEDROCK_KNOWLEDGE_BASE_ID"],
		DataSourceID:        resolved["BEDROCK_DATA_SOURCE_ID"],
		ModelID:             getEnv("BEDROCK_MODEL_ID", DefaultModelID),
		CognitoClientID:     resolved["COGNITO_CLIENT_ID"],
		CognitoClientSecret: resolved["COGNITO_CLIENT_SECRET"],
		DocumentsTable:      resolved["DOCUMENTS_TABLE"],
		UploadTopicARN:      resolved["UPLOAD_TOPIC_ARN"],
		MaxUploadBytes:      getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		RetrievalTimeout:    getEnvDuration("RETRIEVAL_TIMEOUT", 30*time.Second),
		GenerationTimeout:   getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 20),
	}
	if getEnv("AWS_LAMBDA_FUNCTION_NAME", "") != "" && cfg.MaxUploadBytes > LambdaMaxUploadBytes {
		cfg.MaxUploadBytes = LambdaMaxUploadBytes
	}
	return cfg, nil
}

// Validate reports settings uploads depend on. A missing knowledge base ID is
// not one of them: queries answer NotConfigured instead.
func (c *Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("missing env S3_BUCKET_NAME")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func getParameter(ctx context.Context, c ParamStore, name string) (string, error) {
	out, err := c.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm GetParameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("ssm parameter %s has no value", name)
	}
	return strings.TrimSpace(aws.ToString(out.Parameter.Value)), nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := getEnv(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
// "0" disables the timeout.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
