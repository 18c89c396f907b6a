package agentapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyloop/internal/logging"
)

// ModelParams carries per-session model overrides. Zero values fall back to
// the client defaults.
type ModelParams struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// Reply is the outcome of one prompt round-trip.
type Reply struct {
	// Text is the accumulated assistant output. On timeout this holds
	// whatever was streamed before the deadline.
	Text string
	// Truncated is set when the deadline expired mid-stream and Text is a
	// best-effort partial result.
	Truncated bool
}

// SessionClient manages conversational sessions with the coding agent.
// Sessions keep message history so follow-up prompts (fix-up rounds) see
// prior context.
type SessionClient interface {
	// CreateSession starts a new conversation scoped to a workspace and
	// returns its id.
	CreateSession(ctx context.Context, workDir string, params ModelParams) (string, error)
	// SendPrompt sends a prompt on an existing session and returns the
	// assistant reply. When ctx carries a deadline and it expires mid-stream,
	// the partial text received so far is returned with Truncated set instead
	// of an error.
	SendPrompt(ctx context.Context, sessionID, prompt string) (Reply, error)
	// CloseSession discards a session and its history.
	CloseSession(sessionID string)
}

type session struct {
	workDir  string
	model    anthropic.Model
	maxTok   int
	system   string
	messages []anthropic.MessageParam
}

// ClaudeSessions implements SessionClient on top of the Anthropic API client.
type ClaudeSessions struct {
	client *Client
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewClaudeSessions creates a session client backed by the given API client.
func NewClaudeSessions(client *Client) *ClaudeSessions {
	return &ClaudeSessions{
		client:   client,
		log:      logging.Component("agentapi"),
		sessions: make(map[string]*session),
	}
}

// CreateSession starts a new conversation and returns its id.
func (s *ClaudeSessions) CreateSession(ctx context.Context, workDir string, params ModelParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sess := &session{
		workDir: workDir,
		model:   s.client.model,
		maxTok:  s.client.maxTokens,
		system:  params.SystemPrompt,
	}
	if params.Model != "" {
		sess.model = anthropic.Model(params.Model)
	}
	if params.MaxTokens > 0 {
		sess.maxTok = params.MaxTokens
	}

	id := uuid.New().String()

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Debug().Str("session_id", id).Str("workspace", workDir).Msg("session created")
	return id, nil
}

// SendPrompt sends the prompt and streams the reply, accumulating text
// deltas. A context deadline yields the partial text rather than an error so
// callers can evaluate whatever work the agent completed before the cutoff.
func (s *ClaudeSessions) SendPrompt(ctx context.Context, sessionID, prompt string) (Reply, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return Reply{}, fmt.Errorf("unknown session %s", sessionID)
	}

	sess.messages = append(sess.messages, anthropic.NewUserMessage(
		anthropic.NewTextBlock(prompt),
	))

	params := anthropic.MessageNewParams{
		Model:     sess.model,
		MaxTokens: int64(sess.maxTok),
		Messages:  sess.messages,
	}
	if sess.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: sess.system}}
	}

	stream := s.client.inner.Messages.NewStreaming(ctx, params)

	var text strings.Builder
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			s.log.Warn().Err(err).Msg("failed to accumulate stream event")
			continue
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok {
				text.WriteString(delta.Text)
			}
		}
	}

	if err := stream.Err(); err != nil {
		if isDeadline(ctx, err) && text.Len() > 0 {
			s.log.Warn().Str("session_id", sessionID).Int("chars", text.Len()).
				Msg("prompt timed out, returning partial reply")
			sess.messages = append(sess.messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(text.String()),
			))
			return Reply{Text: text.String(), Truncated: true}, nil
		}
		// Drop the unanswered prompt so a retry starts from consistent history.
		sess.messages = sess.messages[:len(sess.messages)-1]
		return Reply{}, fmt.Errorf("send prompt: %w", err)
	}

	s.client.tracker.Add(message.Usage.InputTokens, message.Usage.OutputTokens)

	sess.messages = append(sess.messages, message.ToParam())
	return Reply{Text: text.String()}, nil
}

// CloseSession removes the session and its history.
func (s *ClaudeSessions) CloseSession(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Verify ClaudeSessions implements SessionClient at compile time.
var _ SessionClient = (*ClaudeSessions)(nil)
