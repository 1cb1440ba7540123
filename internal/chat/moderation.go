package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ideagen/backend/internal/ai"
)

const moderationSystemPrompt = `You are a content safety classifier. Judge whether the user message requests
malicious, illegal or unethical content.

Reply with EXACTLY one of:
[MODERATION: SAFE]
[MODERATION: DANGEROUS]

Reply with nothing else.`

const dangerousMarker = "DANGEROUS"

var moderationTagPattern = regexp.MustCompile(`(?i)\[\s*MODERATION\s*:\s*(SAFE|DANGEROUS)\s*\]\s*`)

// ModerationGate classifies free-chat input before any generation happens.
// A classifier failure fails closed: the message is never silently approved.
type ModerationGate struct {
	provider ai.Provider
}

func NewModerationGate(provider ai.Provider) *ModerationGate {
	return &ModerationGate{provider: provider}
}

// Check returns nil when the message may proceed, ErrModerationRejected when
// the classifier flags it, and ErrUpstream when the classifier is unreachable.
func (g *ModerationGate) Check(ctx context.Context, text string) error {
	reply, err := g.provider.Chat(ctx, []ai.Message{
		{Role: "system", Content: moderationSystemPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		return fmt.Errorf("%w: moderation call failed: %v", ErrUpstream, err)
	}
	if strings.Contains(strings.ToUpper(reply), dangerousMarker) {
		return ErrModerationRejected
	}
	return nil
}

// scrubModerationTags strips classifier markers that models occasionally echo
// into generation output.
func scrubModerationTags(content string) string {
	return strings.TrimSpace(moderationTagPattern.ReplaceAllString(content, ""))
}
