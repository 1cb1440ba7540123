package chat

import "fmt"

const freeChatSystemPrompt = `You are a helpful assistant. Keep answers concise.`

const ideaChatSystemPrompt = `You are discussing this idea with the user:

Idea: %q
Context: %q

Only answer questions related to this idea. If a question is unrelated,
steer the conversation back to the idea. Keep answers concise (at most
100 words).`

// systemPromptFor builds the generation system prompt from the session's
// cached idea snapshot, never from the live idea record.
func systemPromptFor(s *Session) string {
	if s.Kind == KindIdeaBased {
		return fmt.Sprintf(ideaChatSystemPrompt, s.CachedIdeaContent, s.CachedIdeaContext)
	}
	return freeChatSystemPrompt
}
