package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/quendale/supportchat/internal/config"
	"github.com/quendale/supportchat/internal/model/chat"
	"github.com/quendale/supportchat/internal/service/orchestrator"
)

// Service implements the response-generation call against an LLM chat
// model. It satisfies orchestrator.Generator.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	log       zerolog.Logger
}

// NewService compiles the prompt/model chain used for every generation.
func NewService(ctx context.Context, cfg config.AIConfig, log zerolog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
		log:       log.With().Str("component", "ai").Logger(),
	}, nil
}

// Generate runs the chain with the request's bounded history window.
func (s *Service) Generate(ctx context.Context, req orchestrator.Request) (string, error) {
	input := map[string]any{
		"system":  s.cfg.SystemPrompt,
		"history": historyMessages(req.History),
		"query":   req.Message,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	s.log.Debug().
		Str("session_id", req.SessionID).
		Int("history_len", len(req.History)).
		Int("reply_len", len(response.Content)).
		Msg("generated response")
	return response.Content, nil
}

func historyMessages(turns []orchestrator.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(t.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(t.Content, nil))
		}
	}
	return history
}
