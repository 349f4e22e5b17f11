package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/chatd/pkg/domain"
	"github.com/aescanero/chatd/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

const (
	stageTemplate = "template"
	stageEncode   = "encode"
	stageGenerate = "generate"
	stageDecode   = "decode"
)

// stageError tags a backend failure with the step that produced it
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

// Service turns chat requests into model replies
type Service struct {
	tokenizer ports.Tokenizer
	model     ports.Model
	eventBus  ports.EventBus
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger
}

// NewService creates a new chat service. eventBus may be nil.
func NewService(
	tokenizer ports.Tokenizer,
	model ports.Model,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
) *Service {
	return &Service{
		tokenizer: tokenizer,
		model:     model,
		eventBus:  eventBus,
		metrics:   metrics,
		validator: validator,
		logger:    logger,
	}
}

// Prepare validates the request, renders the chat template and encodes the
// prompt. It returns the token ids that would be handed to the model.
func (s *Service) Prepare(ctx context.Context, req *domain.ChatRequest) ([]int, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	prompt, err := s.tokenizer.ApplyChatTemplate(ctx, req.Messages, ports.TemplateOptions{
		Thinking:            req.Thinking,
		AddGenerationPrompt: true,
	})
	if err != nil {
		return nil, &stageError{stage: stageTemplate, err: err}
	}

	inputIDs, err := s.tokenizer.Encode(ctx, prompt)
	if err != nil {
		return nil, &stageError{stage: stageEncode, err: err}
	}

	return inputIDs, nil
}

// Complete runs a full chat completion for req
func (s *Service) Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	requestID := RequestIDFromContext(ctx)
	start := time.Now()

	inputIDs, err := s.Prepare(ctx, req)
	if err != nil {
		if domain.IsValidationError(err) {
			s.logger.Info("chat request rejected",
				zap.String("request_id", requestID),
				zap.Error(err))
			s.metrics.RecordChatRequest(StatusInvalid)
			return nil, err
		}
		return nil, s.fail(ctx, requestID, err)
	}

	genStart := time.Now()
	outputIDs, err := s.model.Generate(ctx, ports.GenerateParams{
		InputIDs:     inputIDs,
		MaxNewTokens: req.MaxTokens,
		Temperature:  req.Temperature,
		EOSTokenID:   s.tokenizer.EOSTokenID(),
	})
	if err != nil {
		return nil, s.fail(ctx, requestID, &stageError{stage: stageGenerate, err: err})
	}
	genDuration := time.Since(genStart)
	s.metrics.ObserveGenerationDuration(genDuration)

	if len(outputIDs) < len(inputIDs) {
		return nil, s.fail(ctx, requestID, &stageError{stage: stageGenerate, err: domain.ErrEmptyGeneration})
	}

	generated := outputIDs[len(inputIDs):]
	if len(generated) > req.MaxTokens {
		generated = generated[:req.MaxTokens]
	}

	text, err := s.tokenizer.Decode(ctx, generated)
	if err != nil {
		return nil, s.fail(ctx, requestID, &stageError{stage: stageDecode, err: err})
	}

	reply := strings.TrimSpace(text)

	s.metrics.RecordTokens(len(inputIDs), len(generated))
	s.metrics.RecordChatRequest(StatusOK)

	duration := time.Since(start)
	s.logger.Info("chat completed",
		zap.String("request_id", requestID),
		zap.Int("messages", len(req.Messages)),
		zap.Int("prompt_tokens", len(inputIDs)),
		zap.Int("completion_tokens", len(generated)),
		zap.Bool("thinking", req.Thinking),
		zap.Duration("generation", genDuration),
		zap.Duration("duration", duration))

	s.publishEvent(ctx, requestID, domain.EventTypeChatCompleted, map[string]interface{}{
		"message_count":     len(req.Messages),
		"prompt_tokens":     len(inputIDs),
		"completion_tokens": len(generated),
		"thinking":          req.Thinking,
		"duration_ms":       duration.Milliseconds(),
	})

	return &domain.ChatResponse{Reply: reply}, nil
}

// fail logs and reports a server-side failure and returns the wrapped error
func (s *Service) fail(ctx context.Context, requestID string, err error) error {
	stage := "unknown"
	if se, ok := err.(*stageError); ok {
		stage = se.stage
	}

	s.logger.Error("chat failed",
		zap.String("request_id", requestID),
		zap.String("stage", stage),
		zap.Error(err))
	s.metrics.RecordChatRequest(StatusError)

	s.publishEvent(ctx, requestID, domain.EventTypeChatFailed, map[string]interface{}{
		"stage": stage,
		"error": err.Error(),
	})

	return fmt.Errorf("chat completion failed: %w", err)
}

// publishEvent publishes a lifecycle event; failures never reach the caller
func (s *Service) publishEvent(ctx context.Context, requestID string, eventType domain.EventType, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RequestID: requestID,
		Timestamp: time.Now(),
		Data:      data,
	}

	// The request context may already be cancelled once the reply is written.
	if err := s.eventBus.Publish(context.WithoutCancel(ctx), domain.TopicChatEvents, event); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("request_id", requestID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
