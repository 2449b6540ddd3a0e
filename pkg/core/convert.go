package core

import (
	"fmt"
	"strings"

	"github.com/recallhq/recall-go/pkg/llm"
)

// NormalizeMessages coerces the accepted ingest shapes into a message
// slice. A bare string becomes a single user message; maps must carry
// "role" and "content" keys.
func NormalizeMessages(messages interface{}) ([]llm.Message, error) {
	switch v := messages.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
		}
		return []llm.Message{{Role: "user", Content: v}}, nil
	case llm.Message:
		return []llm.Message{v}, nil
	case []llm.Message:
		return v, nil
	case map[string]interface{}:
		msg, err := messageFromMap(v)
		if err != nil {
			return nil, err
		}
		return []llm.Message{msg}, nil
	case []map[string]interface{}:
		out := make([]llm.Message, 0, len(v))
		for _, m := range v {
			msg, err := messageFromMap(m)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		}
		return out, nil
	case []interface{}:
		out := make([]llm.Message, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: message must be an object with role and content", ErrInvalidInput)
			}
			msg, err := messageFromMap(m)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported message type %T", ErrInvalidInput, messages)
	}
}

func messageFromMap(m map[string]interface{}) (llm.Message, error) {
	role, _ := m["role"].(string)
	content, _ := m["content"].(string)
	if content == "" {
		return llm.Message{}, fmt.Errorf("%w: message content is required", ErrInvalidInput)
	}
	if role == "" {
		role = "user"
	}
	return llm.Message{Role: role, Content: content}, nil
}

// flattenText joins non-system message contents for the direct (infer=false)
// store path.
func flattenText(messages []llm.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == "system" || msg.Content == "" {
			continue
		}
		parts = append(parts, msg.Content)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
