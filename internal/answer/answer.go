// Package answer implements the generation loop: it assembles
// the system prompt, prior conversation turns, and the packed retrieval
// context into an OpenAI-style message list, streams the Generator's
// tokens to the caller, and finalizes with the full response text and
// the citation list actually used.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmswen/knowledge/internal/contextbuild"
	knowledgeerrors "github.com/jmswen/knowledge/internal/errors"
	"github.com/jmswen/knowledge/internal/generate"
)

// systemPrompt establishes the answering policy: ground answers
// in the provided context, cite by [i], and admit absence of evidence
// rather than guessing.
const systemPrompt = `You are a knowledge assistant answering questions about the user's own documents.

Ground every claim in the numbered context passages below and cite the
passage number in square brackets, e.g. [1], immediately after the
sentence it supports. If the context does not contain the answer, say
so plainly instead of guessing.`

// MaxHistoryTurns is the conversation-history window.
const MaxHistoryTurns = 8

// thinkOpen and thinkClose delimit a model "thinking" passage in the
// streamed output.
const (
	thinkOpen  = "<thinking>"
	thinkClose = "</thinking>"
)

// Turn is one prior exchange in a conversation's history.
type Turn struct {
	Role    generate.Role
	Content string
}

// Citation is one context passage the generator was shown, numbered as
// it appears in the packed prompt.
type Citation struct {
	Number   int
	Filename string
	ChunkID  int64
}

// Final is the terminal event emitted once a stream completes: the full
// response text and the citations that were actually available to the
// model (whether or not the model referenced all of them).
type Final struct {
	Response  string
	Citations []Citation
}

// Store persists the assistant's final message once a stream completes.
// Implementations open their own connection/session per call so that an
// early client disconnect during streaming never blocks or loses the
// write.
type Store interface {
	SaveMessage(ctx context.Context, conversationID string, role generate.Role, content string) error
}

// Loop assembles prompts and drives streaming generation for a
// conversation. It is safe for concurrent use across conversations; the
// embedded StreamGuard enforces the single-stream-per-conversation
// rule.
type Loop struct {
	gen   generate.Generator
	store Store // optional; nil skips persistence
	guard *StreamGuard

	Temperature float64
	MaxTokens   int
}

// New builds a Loop. store may be nil if the caller does not need
// assistant-message persistence (e.g. quick_search-style one-off asks).
func New(gen generate.Generator, store Store) *Loop {
	return &Loop{
		gen:         gen,
		store:       store,
		guard:       NewStreamGuard(),
		Temperature: 0.2,
		MaxTokens:   1024,
	}
}

// buildMessages assembles the OpenAI-style message list: system prompt,
// up to MaxHistoryTurns prior turns, then the packed context followed
// by the user's question.
func buildMessages(history []Turn, packed []contextbuild.PackedChunk, question string) []generate.Message {
	msgs := make([]generate.Message, 0, 2+len(history)+1)
	msgs = append(msgs, generate.Message{Role: generate.RoleSystem, Content: systemPrompt})

	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	for _, t := range history {
		msgs = append(msgs, generate.Message{Role: t.Role, Content: t.Content})
	}

	var b strings.Builder
	if len(packed) > 0 {
		b.WriteString("Context:\n\n")
		b.WriteString(contextbuild.RenderPrompt(packed))
		b.WriteString("\n")
	} else {
		b.WriteString("No matching context was found in the document collection.\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", question)

	msgs = append(msgs, generate.Message{Role: generate.RoleUser, Content: b.String()})
	return msgs
}

// citationsFrom derives the numbered citation list from the packed
// context actually shown to the model.
func citationsFrom(packed []contextbuild.PackedChunk) []Citation {
	citations := make([]Citation, 0, len(packed))
	for _, c := range packed {
		chunkID := int64(0)
		if c.Result != nil {
			chunkID = c.Result.ChunkID
		}
		citations = append(citations, Citation{Number: c.Citation, Filename: c.Filename, ChunkID: chunkID})
	}
	return citations
}

// Stream runs one turn of the generator loop: it acquires the
// per-conversation guard, assembles the prompt, streams tokens to
// onToken (wrapping "thinking" sentinels from the backend in a
// delimited block), and on completion persists the assistant
// message on a fresh Store call and returns the Final event.
//
// A nil Generator or one reporting Available()==false yields the
// fallback error-string response instead of a hard error, so the
// caller always gets a displayable answer.
func (l *Loop) Stream(ctx context.Context, conversationID string, history []Turn, packed []contextbuild.PackedChunk, question string, onToken func(string)) (*Final, error) {
	release, err := l.guard.Acquire(conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	if l.gen == nil || !l.gen.Available(ctx) {
		fallback := "I couldn't reach the language model to generate an answer. Please try again."
		if onToken != nil {
			onToken(fallback)
		}
		l.persist(ctx, conversationID, fallback)
		return &Final{Response: fallback, Citations: citationsFrom(packed)}, nil
	}

	messages := buildMessages(history, packed, question)

	var full strings.Builder
	streamErr := l.gen.ChatStream(ctx, messages, l.Temperature, l.MaxTokens, func(tok string) {
		full.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	})
	if streamErr != nil {
		fallback := "The language model failed to generate a response: " + streamErr.Error()
		if onToken != nil {
			onToken(fallback)
		}
		l.persist(ctx, conversationID, fallback)
		return &Final{Response: fallback, Citations: citationsFrom(packed)}, nil
	}

	response := wrapThinking(full.String())
	l.persist(ctx, conversationID, response)

	return &Final{Response: response, Citations: citationsFrom(packed)}, nil
}

// persist best-effort saves the assistant's message on a fresh Store
// call; a persistence failure is a KindPersistence condition that
// must not fail the already-completed stream.
func (l *Loop) persist(ctx context.Context, conversationID, content string) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveMessage(ctx, conversationID, generate.RoleAssistant, content); err != nil {
		kerr := knowledgeerrors.NewKind(knowledgeerrors.KindPersistence, "failed to persist assistant message", err)
		slog.Warn("answer: persistence failed, in-memory response still returned to caller",
			slog.String("conversation_id", conversationID), slog.String("error", kerr.Error()))
	}
}

// backendThinkOpen/backendThinkClose are the raw reasoning sentinels
// some chat backends (e.g. reasoning-tuned Ollama models) interleave
// with visible content.
const (
	backendThinkOpen  = "<think>"
	backendThinkClose = "</think>"
)

// wrapThinking rewrites any backend-native thinking sentinels in text
// into the delimited block, leaving surrounding visible text
// untouched. Backends that never emit the raw sentinel return text
// unchanged.
func wrapThinking(text string) string {
	if !strings.Contains(text, backendThinkOpen) {
		return text
	}
	text = strings.ReplaceAll(text, backendThinkOpen, thinkOpen)
	text = strings.ReplaceAll(text, backendThinkClose, thinkClose)
	return text
}
