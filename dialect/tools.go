package dialect

import (
	"encoding/json"
	"fmt"
)

// ValidateTools checks that tool definitions are well-formed before
// they're handed to a provider. Generalized from the teacher's
// provider.ValidateToolDefinitions to operate on the neutral Tool type.
func ValidateTools(tools []Tool) error {
	seen := make(map[string]bool, len(tools))
	for i, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("tool[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tool[%d]: duplicate tool name %q", i, t.Name)
		}
		seen[t.Name] = true
		if len(t.Parameters) > 0 {
			var js json.RawMessage
			if err := json.Unmarshal(t.Parameters, &js); err != nil {
				return fmt.Errorf("tool[%d] %q: parameters is not valid JSON: %w", i, t.Name, err)
			}
		}
	}
	return nil
}

// HasToolCalls reports whether any assistant message carries tool
// calls awaiting a result.
func HasToolCalls(req Request) bool {
	for _, m := range req.Messages {
		if len(m.ToolCalls) > 0 {
			return true
		}
	}
	return false
}

// HasToolResults reports whether the request carries a tool-result
// message (role "tool") that a provider round-trip must preserve.
func HasToolResults(req Request) bool {
	for _, m := range req.Messages {
		if m.Role == "tool" || m.ToolCallID != "" {
			return true
		}
	}
	return false
}
