package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"ragbackend/internal/config"
	"ragbackend/internal/db"
	"ragbackend/internal/documents"
	"ragbackend/internal/generation"
	"ragbackend/internal/handlers"
	"ragbackend/internal/identity"
	"ragbackend/internal/ingest"
	"ragbackend/internal/logger"
	"ragbackend/internal/notify"
	"ragbackend/internal/rag"
	"ragbackend/internal/retrieval"
	"ragbackend/internal/storage"
)

const serviceName = "rag-backend"

// App is everything a binary needs to serve requests.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	API    *handlers.API
}

// New loads AWS and service configuration and wires every component. Missing
// optional identifiers disable the matching feature rather than failing.
func New(ctx context.Context) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	cfg, err := config.Load(ctx, ssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}

	log, err := logger.New(serviceName, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		// Uploads will answer 500 until fixed; queries and auth still work.
		log.Warn("incomplete configuration", zap.Error(err))
	}
	if cfg.KnowledgeBaseID == "" {
		log.Warn("BEDROCK_KNOWLEDGE_BASE_ID not set; queries will fail until configured")
	}

	return &App{Config: cfg, Log: log, API: Wire(cfg, awsCfg, log)}, nil
}

// Wire builds the API from already loaded configuration.
func Wire(cfg *config.Config, awsCfg aws.Config, log *zap.Logger) *handlers.API {
	orch := rag.NewOrchestrator(
		retrieval.NewKnowledgeBase(bedrockagentruntime.NewFromConfig(awsCfg), cfg.KnowledgeBaseID),
		generation.NewBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID),
		rag.Options{
			RetrievalTimeout:  cfg.RetrievalTimeout,
			GenerationTimeout: cfg.GenerationTimeout,
		},
	)

	docs := documents.NewService(
		storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.BucketName),
		cfg.BucketName,
		cfg.MaxUploadBytes,
		documents.WithRegistry(db.NewDocuments(dynamodb.NewFromConfig(awsCfg), cfg.DocumentsTable)),
		documents.WithIngestion(ingest.NewSyncer(bedrockagent.NewFromConfig(awsCfg), cfg.KnowledgeBaseID, cfg.DataSourceID)),
		documents.WithNotifier(notify.NewNotifier(sns.NewFromConfig(awsCfg), cfg.UploadTopicARN)),
	)

	auth := identity.NewCognito(cip.NewFromConfig(awsCfg), cfg.CognitoClientID, cfg.CognitoClientSecret)

	return handlers.NewAPI(orch, docs, auth, log)
}
