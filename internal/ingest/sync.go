package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/google/uuid"
)

// StartIngestionJob caps descriptions at 200 characters.
const maxDescriptionRunes = 200

type AgentClient interface {
	StartIngestionJob(ctx context.Context, params *bedrockagent.StartIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error)
}

// Syncer asks the knowledge base to re-ingest its data source so new uploads
// become retrievable.
type Syncer struct {
	client          AgentClient
	knowledgeBaseID string
	dataSourceID    string
	newToken        func() string
}

func NewSyncer(client AgentClient, knowledgeBaseID, dataSourceID string) *Syncer {
	return &Syncer{
		client:          client,
		knowledgeBaseID: strings.TrimSpace(knowledgeBaseID),
		dataSourceID:    strings.TrimSpace(dataSourceID),
		newToken:        func() string { return uuid.NewString() },
	}
}

func (s *Syncer) Enabled() bool {
	return s != nil && s.client != nil && s.knowledgeBaseID != "" && s.dataSourceID != ""
}

// Start begins an ingestion job and returns its ID. reason ends up in the job
// description.
func (s *Syncer) Start(ctx context.Context, reason string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("ingestion sync not configured")
	}

	in := &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(s.knowledgeBaseID),
		DataSourceId:    aws.String(s.dataSourceID),
		ClientToken:     aws.String(s.newToken()),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		if r := []rune(reason); len(r) > maxDescriptionRunes {
			reason = string(r[:maxDescriptionRunes])
		}
		in.Description = aws.String(reason)
	}

	out, err := s.client.StartIngestionJob(ctx, in)
	if err != nil {
		return "", fmt.Errorf("start ingestion job: %w", err)
	}
	if out.IngestionJob == nil {
		return "", fmt.Errorf("start ingestion job: empty response")
	}
	return aws.ToString(out.IngestionJob.IngestionJobId), nil
}
