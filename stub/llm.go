package stub

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/onboarding/backend"
)

// llmClient generates assistant prose through an OpenAI-compatible API.
// It only ever produces token text; slots and step suggestions stay with
// the deterministic rules.
type llmClient struct {
	client *openai.Client
	model  string
}

func newLLMClient(p *profile.Profile) *llmClient {
	cfg := openai.DefaultConfig(p.StubLLMAPIKey)
	if p.StubLLMBaseURL != "" {
		cfg.BaseURL = p.StubLLMBaseURL
	}
	return &llmClient{
		client: openai.NewClientWithConfig(cfg),
		model:  p.StubLLMModel,
	}
}

func (l *llmClient) streamReply(ctx context.Context, req backend.StreamRequest, state onboarding.ConversationState, emit func(string) error) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(state),
	})
	for _, h := range req.History {
		role := openai.ChatMessageRoleAssistant
		if h.Sender == "user" {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: h.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	stream, err := l.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    l.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return errors.Wrap(err, "create completion stream")
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read completion stream")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := emit(delta); err != nil {
				return err
			}
		}
	}
}

func systemPrompt(state onboarding.ConversationState) string {
	var b strings.Builder
	b.WriteString("You are Hearth, a warm assistant onboarding a household. ")
	b.WriteString("You are gathering three facts in order: the family name, the family members, and the rooms of the home. ")
	fmt.Fprintf(&b, "The conversation is at the %q step. ", state.Step)
	if state.FamilyName != "" {
		fmt.Fprintf(&b, "Family name so far: %s. ", state.FamilyName)
	}
	if len(state.Members) > 0 {
		names := make([]string, 0, len(state.Members))
		for _, m := range state.Members {
			names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.Role))
		}
		fmt.Fprintf(&b, "Members so far: %s. ", strings.Join(names, ", "))
	}
	if len(state.Rooms) > 0 {
		fmt.Fprintf(&b, "Rooms so far: %s. ", strings.Join(state.Rooms, ", "))
	}
	b.WriteString("Acknowledge what the user just told you and ask for the next missing fact. ")
	b.WriteString("Keep replies to one or two short sentences. Never invent facts the user did not state.")
	return b.String()
}
