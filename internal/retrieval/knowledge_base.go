package retrieval

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/logger"
	"ragbackend/internal/rag"
)

const missingText = "No content available"

type RetrieveClient interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// KnowledgeBase retrieves passages from a Bedrock knowledge base.
type KnowledgeBase struct {
	client          RetrieveClient
	knowledgeBaseID string
}

func NewKnowledgeBase(client RetrieveClient, knowledgeBaseID string) *KnowledgeBase {
	return &KnowledgeBase{client: client, knowledgeBaseID: strings.TrimSpace(knowledgeBaseID)}
}

func (k *KnowledgeBase) Configured() bool {
	return k.client != nil && k.knowledgeBaseID != ""
}

// Retrieve returns at most maxResults passages in the order the index ranked them.
func (k *KnowledgeBase) Retrieve(ctx context.Context, query string, maxResults int) ([]rag.Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.InvalidInput, apperr.StageRetrieval, "query is required", nil)
	}
	if !k.Configured() {
		return nil, apperr.New(apperr.NotConfigured, apperr.StageRetrieval, "knowledge base ID not configured", nil)
	}
	if maxResults <= 0 {
		maxResults = rag.MaxPassages
	}

	log := logger.From(ctx)
	log.Debug("querying knowledge base",
		zap.String("knowledge_base_id", k.knowledgeBaseID),
		zap.Int("max_results", maxResults),
	)

	out, err := k.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(k.knowledgeBaseID),
		RetrievalQuery:  &brtypes.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &brtypes.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &brtypes.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(int32(maxResults)),
			},
		},
	})
	if err != nil {
		return nil, translate(err)
	}

	results := out.RetrievalResults
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if len(results) == 0 {
		log.Warn("no results found in knowledge base")
		return []rag.Passage{}, nil
	}

	passages := make([]rag.Passage, 0, len(results))
	for i, r := range results {
		passages = append(passages, rag.Passage{
			SourceIndex: i + 1,
			Text:        passageText(r),
			Score:       aws.ToFloat64(r.Score),
			Location:    location(r.Location),
		})
	}
	log.Debug("knowledge base results", zap.Int("count", len(passages)))
	return passages, nil
}

func passageText(r brtypes.KnowledgeBaseRetrievalResult) string {
	if r.Content == nil {
		return missingText
	}
	if t := aws.ToString(r.Content.Text); t != "" {
		return t
	}
	return missingText
}

func location(l *brtypes.RetrievalResultLocation) string {
	if l == nil {
		return ""
	}
	switch {
	case l.S3Location != nil:
		return aws.ToString(l.S3Location.Uri)
	case l.WebLocation != nil:
		return aws.ToString(l.WebLocation.Url)
	}
	return string(l.Type)
}

// translate classifies Retrieve failures by exception type.
func translate(err error) error {
	if apperr.IsTimeout(err) {
		return apperr.New(apperr.Timeout, apperr.StageRetrieval, "knowledge base retrieve timed out", err)
	}
	var denied *brtypes.AccessDeniedException
	if errors.As(err, &denied) {
		return apperr.New(apperr.Unauthorized, apperr.StageRetrieval,
			"not authorized to access Knowledge Base. Check IAM permissions", err)
	}
	var notFound *brtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return apperr.New(apperr.NotConfigured, apperr.StageRetrieval,
			"Knowledge Base not found. Check if ID is correct and Knowledge Base exists", err)
	}
	return apperr.New(apperr.RetrievalFailed, apperr.StageRetrieval, "knowledge base retrieve failed", err)
}
