package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/logger"
)

// Fixed pipeline policy.
const (
	MaxPassages = 5
	MaxTokens   = 500
	Temperature = 0.7
)

// State is a step of one query's lifecycle.
type State string

const (
	StateReceived        State = "received"
	StateContextFetched  State = "context_fetched"
	StateAnswerGenerated State = "answer_generated"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

type Options struct {
	// Zero disables the per-call deadline.
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
}

// Orchestrator runs retrieve-then-generate for one query. It holds no mutable
// state and is safe for concurrent use.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	opts      Options
}

func NewOrchestrator(r Retriever, g Generator, opts Options) *Orchestrator {
	return &Orchestrator{retriever: r, generator: g, opts: opts}
}

// Answer validates req, retrieves the top passages, and generates an answer
// grounded in them. Every failure is an *apperr.Error carrying its stage.
func (o *Orchestrator) Answer(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	log := logger.From(ctx)
	query := strings.TrimSpace(req.Query)
	log.Debug("query state", zap.String("state", string(StateReceived)))

	if query == "" {
		return nil, o.fail(log, apperr.New(apperr.InvalidInput, apperr.StageValidation, "query is required", nil))
	}
	if o.retriever == nil || !o.retriever.Configured() {
		return nil, o.fail(log, apperr.New(apperr.NotConfigured, apperr.StageConfig, "knowledge base ID not configured", nil))
	}

	passages, err := o.retrieve(ctx, query)
	if err != nil {
		return nil, o.fail(log, classify(apperr.StageRetrieval, apperr.RetrievalFailed, err))
	}
	rc := normalize(passages)
	log.Debug("query state",
		zap.String("state", string(StateContextFetched)),
		zap.Int("passages", len(rc)),
	)

	// verbatim query; the trimmed copy is for validation and retrieval only
	prompt := BuildPrompt(rc, req.Query)
	answer, err := o.generate(ctx, prompt)
	if err != nil {
		return nil, o.fail(log, classify(apperr.StageGeneration, apperr.GenerationFailed, err))
	}
	log.Debug("query state", zap.String("state", string(StateAnswerGenerated)))

	res := &QueryResult{
		Answer:   strings.TrimSpace(answer),
		Context:  rc.String(),
		Passages: rc,
		Sources:  rc.Sources(),
	}
	log.Debug("query state", zap.String("state", string(StateCompleted)))
	return res, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, query string) ([]Passage, error) {
	ctx, cancel := withTimeout(ctx, o.opts.RetrievalTimeout)
	defer cancel()
	return o.retriever.Retrieve(ctx, query, MaxPassages)
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()
	return o.generator.Generate(ctx, prompt, MaxTokens, Temperature)
}

func (o *Orchestrator) fail(log *zap.Logger, err *apperr.Error) *apperr.Error {
	log.Warn("query failed",
		zap.String("state", string(StateFailed)),
		zap.String("stage", string(err.Stage)),
		zap.String("kind", string(err.Kind)),
		zap.String("detail", err.Detail()),
	)
	return err
}

// normalize keeps backend order, caps at MaxPassages and renumbers 1..n.
func normalize(in []Passage) RetrievalContext {
	if len(in) > MaxPassages {
		in = in[:MaxPassages]
	}
	out := make(RetrievalContext, len(in))
	for i, p := range in {
		p.SourceIndex = i + 1
		out[i] = p
	}
	return out
}

// classify maps a gateway error onto the taxonomy, pinning the stage.
func classify(stage apperr.Stage, fallback apperr.Kind, err error) *apperr.Error {
	if apperr.IsTimeout(err) {
		return apperr.New(apperr.Timeout, stage, string(stage)+" timed out", err)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return &apperr.Error{Kind: ae.Kind, Stage: stage, Message: ae.Message, Err: ae.Err}
	}
	return apperr.New(fallback, stage, string(stage)+" failed", err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
