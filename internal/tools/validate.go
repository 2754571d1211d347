package tools

import (
	"math"

	"github.com/cuba6112/ollama-mcp/internal/ollama"
)

// validRoles are the chat roles Ollama accepts.
var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// stringArg extracts a required non-empty string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", &ValidationError{Field: key, Message: "required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: key, Message: "must be a string"}
	}
	if s == "" {
		return "", &ValidationError{Field: key, Message: "must not be empty"}
	}
	return s, nil
}

// optionalString extracts an optional string argument, returning "" when
// absent.
func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: key, Message: "must be a string"}
	}
	return s, nil
}

// optionalBool extracts an optional boolean argument, returning false
// when absent.
func optionalBool(args map[string]any, key string) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &ValidationError{Field: key, Message: "must be a boolean"}
	}
	return b, nil
}

// optionalNumber extracts an optional numeric argument. JSON numbers
// arrive as float64.
func optionalNumber(args map[string]any, key string) (*float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, &ValidationError{Field: key, Message: "must be a number"}
	}
	return &f, nil
}

// optionalInt extracts an optional integer argument, rejecting
// fractional values.
func optionalInt(args map[string]any, key string) (*int, error) {
	f, err := optionalNumber(args, key)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	if *f != math.Trunc(*f) {
		return nil, &ValidationError{Field: key, Message: "must be an integer"}
	}
	n := int(*f)
	return &n, nil
}

// parseOptions extracts and range-checks the generation parameters
// shared by the completion, chat, and embeddings tools.
func parseOptions(args map[string]any) (*ollama.Options, error) {
	opts := &ollama.Options{}

	temp, err := optionalNumber(args, "temperature")
	if err != nil {
		return nil, err
	}
	if temp != nil {
		if *temp < 0 || *temp > 2 {
			return nil, &ValidationError{Field: "temperature", Message: "must be between 0.0 and 2.0"}
		}
		opts.Temperature = temp
	}

	topP, err := optionalNumber(args, "top_p")
	if err != nil {
		return nil, err
	}
	if topP != nil {
		if *topP < 0 || *topP > 1 {
			return nil, &ValidationError{Field: "top_p", Message: "must be between 0.0 and 1.0"}
		}
		opts.TopP = topP
	}

	topK, err := optionalInt(args, "top_k")
	if err != nil {
		return nil, err
	}
	if topK != nil {
		if *topK < 1 {
			return nil, &ValidationError{Field: "top_k", Message: "must be at least 1"}
		}
		opts.TopK = topK
	}

	if opts.Seed, err = optionalInt(args, "seed"); err != nil {
		return nil, err
	}
	numPredict, err := optionalInt(args, "max_tokens")
	if err != nil {
		return nil, err
	}
	if numPredict != nil {
		if *numPredict < -1 {
			return nil, &ValidationError{Field: "max_tokens", Message: "must be -1 (no limit) or greater"}
		}
		opts.NumPredict = numPredict
	}

	if v, ok := args["stop"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, &ValidationError{Field: "stop", Message: "must be an array of strings"}
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &ValidationError{Field: "stop", Message: "must be an array of strings"}
			}
			opts.Stop = append(opts.Stop, s)
		}
	}

	if opts.Empty() {
		return nil, nil
	}
	return opts, nil
}

// parseMessages extracts and validates a chat message list. Every
// message needs a known role and string content.
func parseMessages(args map[string]any) ([]ollama.Message, error) {
	v, ok := args["messages"]
	if !ok {
		return nil, &ValidationError{Field: "messages", Message: "required"}
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &ValidationError{Field: "messages", Message: "must be an array"}
	}
	if len(list) == 0 {
		return nil, &ValidationError{Field: "messages", Message: "must not be empty"}
	}

	messages := make([]ollama.Message, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &ValidationError{Field: "messages", Message: "each message must be an object"}
		}
		role, ok := obj["role"].(string)
		if !ok || !validRoles[role] {
			return nil, &ValidationError{
				Field:   "messages",
				Message: "role must be one of system, user, assistant",
			}
		}
		content, ok := obj["content"].(string)
		if !ok {
			return nil, &ValidationError{Field: "messages", Message: "content must be a string"}
		}
		messages = append(messages, ollama.Message{Role: role, Content: content})
	}
	return messages, nil
}

// parseInputs normalizes the embeddings "input" argument, which may be
// a single string or an array of strings.
func parseInputs(args map[string]any) ([]string, error) {
	v, ok := args["input"]
	if !ok {
		return nil, &ValidationError{Field: "input", Message: "required"}
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil, &ValidationError{Field: "input", Message: "must not be empty"}
		}
		return []string{val}, nil
	case []any:
		if len(val) == 0 {
			return nil, &ValidationError{Field: "input", Message: "must not be empty"}
		}
		inputs := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, &ValidationError{Field: "input", Message: "must be a string or array of strings"}
			}
			inputs = append(inputs, s)
		}
		return inputs, nil
	default:
		return nil, &ValidationError{Field: "input", Message: "must be a string or array of strings"}
	}
}
