package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/knowledge"
	"github.com/thutuc-assistant/rag-chat/backend/internal/pkg/logger"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/ai"
)

// ErrEmptyQuestion rejects blank input before anything is recorded.
var ErrEmptyQuestion = errors.New("question is empty")

// Inline texts shown as the assistant turn when a turn cannot be answered.
const (
	GenerationErrorPrefix = "Lỗi khi gọi mô hình ngôn ngữ: "
	RetrievalErrorPrefix  = "Lỗi khi truy xuất dữ liệu: "
	InterruptedMessage    = "Câu trả lời đã bị gián đoạn."
)

// Retriever returns up to topK chunks ordered by relevance.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]knowledge.Chunk, error)
}

// Generator produces an answer for a single prompt.
type Generator interface {
	StreamingEnabled() bool
	GenerateResponse(ctx context.Context, prompt string) (*schema.Message, error)
	StreamResponse(ctx context.Context, prompt string) (*schema.StreamReader[*schema.Message], error)
}

// ConversationStore is the session log the pipeline writes to.
type ConversationStore interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	BeginTurn(ctx context.Context, sessionID string) (func(), error)
	AppendTurn(ctx context.Context, turn chat.Turn) (chat.Turn, error)
}

// Frame is one render of the in-progress answer. Buffer only grows between
// frames of a turn; the Final frame carries the persisted turn.
type Frame struct {
	Fragment string
	Buffer   string
	Final    bool
	Status   chat.TurnStatus
	Turn     *chat.Turn
}

// Surface displays frames. A non-nil error means the surface is gone and
// no further frames are wanted.
type Surface interface {
	Render(Frame) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(Frame) error

func (f SurfaceFunc) Render(frame Frame) error { return f(frame) }

// Discard is a Surface that ignores every frame.
var Discard Surface = SurfaceFunc(func(Frame) error { return nil })

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithEmptyContextPolicy selects config.PolicyRefuse or config.PolicyGenerate.
func WithEmptyContextPolicy(policy string) Option {
	return func(p *Pipeline) {
		if policy == config.PolicyGenerate {
			p.emptyPolicy = config.PolicyGenerate
		} else {
			p.emptyPolicy = config.PolicyRefuse
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger.Module(l, "rag")
	}
}

// Pipeline runs one question through retrieve, assemble, generate and
// render, and records both sides of the exchange.
type Pipeline struct {
	store       ConversationStore
	retriever   Retriever
	generator   Generator
	emptyPolicy string
	tracer      trace.Tracer
	logger      *zap.Logger
}

// New wires a pipeline. The refuse policy is the default.
func New(store ConversationStore, retriever Retriever, generator Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		retriever:   retriever,
		generator:   generator,
		emptyPolicy: config.PolicyRefuse,
		tracer:      otel.Tracer("github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"),
		logger:      logger.Module(nil, "rag"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// outcome is the terminal content of a turn before it is persisted.
type outcome struct {
	content string
	status  chat.TurnStatus
	sources []chat.Source
	// silent suppresses the final frame once the surface is gone.
	silent bool
}

// HandleTurn answers one question. It returns an error only when the
// question is rejected before the user turn is recorded; once recorded, the
// turn always ends with an appended assistant turn, which is returned.
func (p *Pipeline) HandleTurn(ctx context.Context, sessionID, question string, surface Surface) (chat.Turn, error) {
	if strings.TrimSpace(question) == "" {
		return chat.Turn{}, ErrEmptyQuestion
	}
	if surface == nil {
		surface = Discard
	}

	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Turn{}, err
	}

	release, err := p.store.BeginTurn(ctx, sessionID)
	if err != nil {
		return chat.Turn{}, err
	}
	defer release()

	if _, err := p.store.AppendTurn(ctx, chat.Turn{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   question,
	}); err != nil {
		return chat.Turn{}, fmt.Errorf("record question: %w", err)
	}

	ctx, span := p.tracer.Start(ctx, "rag.turn", trace.WithAttributes(
		attribute.String("rag.session", sessionID),
		attribute.Int("rag.top_k", session.TopK),
	))
	defer span.End()

	result := p.answer(ctx, session, question, surface)
	span.SetAttributes(attribute.String("rag.status", string(result.status)))

	// The answer is persisted even when the caller has gone away.
	turn, err := p.store.AppendTurn(context.WithoutCancel(ctx), chat.Turn{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   result.content,
		Status:    result.status,
		Sources:   result.sources,
	})
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("assistant turn not recorded", zap.String("session", sessionID), zap.Error(err))
		return chat.Turn{SessionID: sessionID, Role: chat.RoleAssistant, Content: result.content, Status: result.status}, fmt.Errorf("record answer: %w", err)
	}

	p.logger.Info("turn finished",
		zap.String("session", sessionID),
		zap.String("status", string(turn.Status)),
		zap.Int("top_k", session.TopK),
		zap.Int("chunks", len(turn.Sources)),
	)

	if !result.silent {
		final := turn.Clone()
		if err := surface.Render(Frame{Buffer: turn.Content, Final: true, Status: turn.Status, Turn: &final}); err != nil {
			p.logger.Debug("final frame not delivered", zap.String("session", sessionID), zap.Error(err))
		}
	}
	return turn, nil
}

func (p *Pipeline) answer(ctx context.Context, session chat.Session, question string, surface Surface) outcome {
	if ctx.Err() != nil {
		return interrupted("")
	}

	chunks, err := p.retrieve(ctx, question, session.TopK)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted("")
		}
		p.logger.Warn("retrieval failed", zap.String("session", session.ID), zap.Error(err))
		return outcome{content: RetrievalErrorPrefix + err.Error(), status: chat.StatusFailed}
	}

	if len(chunks) == 0 && p.emptyPolicy == config.PolicyRefuse {
		return outcome{content: ai.RefusalMessage, status: chat.StatusRefused}
	}

	prompt := ai.BuildPrompt(chunks, question)
	result := p.generate(ctx, prompt, surface)
	if result.status == chat.StatusComplete {
		result.sources = sourcesOf(chunks)
	}
	return result
}

func (p *Pipeline) retrieve(ctx context.Context, question string, topK int) ([]knowledge.Chunk, error) {
	ctx, span := p.tracer.Start(ctx, "rag.retrieve", trace.WithAttributes(attribute.Int("rag.top_k", topK)))
	defer span.End()

	chunks, err := p.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	span.SetAttributes(attribute.Int("rag.chunks", len(chunks)))
	return chunks, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string, surface Surface) outcome {
	ctx, span := p.tracer.Start(ctx, "rag.generate", trace.WithAttributes(
		attribute.Bool("rag.streaming", p.generator.StreamingEnabled()),
	))
	defer span.End()

	var result outcome
	if p.generator.StreamingEnabled() {
		result = p.consumeStream(ctx, prompt, surface)
	} else {
		result = p.generateOnce(ctx, prompt)
	}

	if result.status == chat.StatusFailed {
		span.SetStatus(codes.Error, "generation failed")
	}
	return result
}

func (p *Pipeline) generateOnce(ctx context.Context, prompt string) outcome {
	msg, err := p.generator.GenerateResponse(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted("")
		}
		return p.failed(err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return p.failed(fmt.Errorf("%w: empty response", ai.ErrGenerationFailed))
	}
	return outcome{content: msg.Content, status: chat.StatusComplete}
}

// consumeStream pulls fragments until the stream ends, renders the growing
// buffer after each non-empty fragment, and stops early when the surface or
// the context goes away.
func (p *Pipeline) consumeStream(ctx context.Context, prompt string, surface Surface) outcome {
	stream, err := p.generator.StreamResponse(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted("")
		}
		return p.failed(err)
	}
	defer stream.Close()

	var buffer strings.Builder
	for {
		if ctx.Err() != nil {
			return interrupted(buffer.String())
		}

		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(buffer.String())
			}
			return p.failed(fmt.Errorf("%w: %v", ai.ErrGenerationFailed, err))
		}
		if msg == nil || msg.Content == "" {
			continue
		}

		buffer.WriteString(msg.Content)
		if err := surface.Render(Frame{Fragment: msg.Content, Buffer: buffer.String()}); err != nil {
			p.logger.Info("surface closed mid-stream", zap.Error(err))
			return interrupted(buffer.String())
		}
	}

	// A producer that stops on cancellation closes the stream cleanly.
	if ctx.Err() != nil {
		return interrupted(buffer.String())
	}
	if buffer.Len() == 0 {
		return p.failed(fmt.Errorf("%w: empty response", ai.ErrGenerationFailed))
	}
	return outcome{content: buffer.String(), status: chat.StatusComplete}
}

func (p *Pipeline) failed(err error) outcome {
	p.logger.Warn("generation failed", zap.Error(err))
	return outcome{content: GenerationErrorPrefix + err.Error(), status: chat.StatusFailed}
}

func interrupted(partial string) outcome {
	if partial == "" {
		partial = InterruptedMessage
	}
	return outcome{content: partial, status: chat.StatusInterrupted, silent: true}
}

func sourcesOf(chunks []knowledge.Chunk) []chat.Source {
	if len(chunks) == 0 {
		return nil
	}
	sources := make([]chat.Source, len(chunks))
	for i, chunk := range chunks {
		sources[i] = chat.Source{Label: chunk.SourceLabel, URL: chunk.SourceURL, Distance: chunk.Distance}
	}
	return sources
}
