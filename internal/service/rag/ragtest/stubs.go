// Package ragtest provides in-memory collaborators for exercising the
// pipeline from other packages' tests.
package ragtest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/knowledge"
)

// Retriever returns a fixed chunk list, or Err.
type Retriever struct {
	Chunks []knowledge.Chunk
	Err    error
}

func (r *Retriever) Retrieve(_ context.Context, _ string, topK int) ([]knowledge.Chunk, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if len(r.Chunks) > topK {
		return r.Chunks[:topK], nil
	}
	return r.Chunks, nil
}

// Generator replays Fragments on every call. When Gate is set each
// fragment after the first waits for a receive on it.
type Generator struct {
	Streaming bool
	Fragments []string
	Err       error
	Gate      chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (g *Generator) StreamingEnabled() bool { return g.Streaming }

// Prompts returns every prompt received so far.
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func (g *Generator) record(prompt string) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
}

func (g *Generator) GenerateResponse(_ context.Context, prompt string) (*schema.Message, error) {
	g.record(prompt)
	if g.Err != nil {
		return nil, g.Err
	}
	return schema.AssistantMessage(strings.Join(g.Fragments, ""), nil), nil
}

func (g *Generator) StreamResponse(ctx context.Context, prompt string) (*schema.StreamReader[*schema.Message], error) {
	g.record(prompt)
	if g.Err != nil {
		return nil, g.Err
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		defer sw.Close()
		for i, f := range g.Fragments {
			if i > 0 && g.Gate != nil {
				select {
				case <-g.Gate:
				case <-ctx.Done():
					return
				}
			}
			if closed := sw.Send(schema.AssistantMessage(f, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

// Chunks builds labelled chunks from texts.
func Chunks(texts ...string) []knowledge.Chunk {
	chunks := make([]knowledge.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = knowledge.Chunk{
			ID:          text,
			Text:        text,
			SourceLabel: "Thủ tục " + text,
			SourceURL:   "https://dichvucong.gov.vn/" + text,
		}
	}
	return chunks
}
