// Package autoreply generates bot turns with a chat-completion model over
// the recent conversation transcript.
package autoreply

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"OmniDesk/entity"
	"OmniDesk/internal/config"
	"OmniDesk/internal/lib/sl"
)

// MessageHistory supplies the newest messages of a conversation, newest
// first, for completion context.
type MessageHistory interface {
	GetRecentChatMessages(ctx context.Context, conversationID string, limit int) ([]entity.ChatMessage, error)
}

type Responder struct {
	client       *openai.Client
	model        string
	systemPrompt string
	historyDepth int
	history      MessageHistory
	log          *slog.Logger
}

func NewResponder(conf *config.Config, history MessageHistory, logger *slog.Logger) *Responder {
	if !conf.OpenAI.Enabled || conf.OpenAI.ApiKey == "" {
		return nil
	}
	return &Responder{
		client:       openai.NewClient(conf.OpenAI.ApiKey),
		model:        conf.OpenAI.Model,
		systemPrompt: conf.OpenAI.SystemPrompt,
		historyDepth: conf.OpenAI.HistoryDepth,
		history:      history,
		log:          logger.With(sl.Module("autoreply")),
	}
}

// ComposeReply produces the bot's answer to the latest customer message.
func (r *Responder) ComposeReply(ctx context.Context, conv *entity.Conversation, userMsg string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt},
	}

	recent, err := r.history.GetRecentChatMessages(ctx, conv.ID, r.historyDepth)
	if err != nil {
		// history is nice-to-have context, not a hard dependency
		r.log.With(
			slog.String("conversation_id", conv.ID),
			sl.Err(err),
		).Warn("loading history for completion")
	}
	// recent arrives newest first, walk backwards to restore order
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		role := openai.ChatMessageRoleUser
		if msg.Sender == entity.SenderBot || msg.Sender == entity.SenderAgent {
			role = openai.ChatMessageRoleAssistant
		}
		if msg.Text == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Text})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMsg,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}
