package domain

import (
	"errors"
	"fmt"
)

// ErrMalformedConversation reports a content-block invariant violation, such
// as a tool_result that references a tool_use id never seen before it.
var ErrMalformedConversation = errors.New("malformed conversation")

// ValidateBlocks checks the tool_use/tool_result pairing invariant across a
// sequence of messages: every tool_result must reference a tool_use id that
// occurred earlier, in the same or a prior message. Order within a message is
// significant, so a tool_result may not precede its tool_use even inside one
// block list.
func ValidateBlocks(messages []Message) error {
	seen := make(map[string]bool)
	for _, msg := range messages {
		for _, block := range msg.Content {
			switch block.Type {
			case BlockTypeToolUse:
				if block.ID == "" {
					return fmt.Errorf("%w: tool_use block without id", ErrMalformedConversation)
				}
				seen[block.ID] = true
			case BlockTypeToolResult:
				if !seen[block.ToolUseID] {
					return fmt.Errorf("%w: tool_result references unknown tool_use id %q",
						ErrMalformedConversation, block.ToolUseID)
				}
			}
		}
	}
	return nil
}
