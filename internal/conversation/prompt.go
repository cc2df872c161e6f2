package conversation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedRole is returned when a transcript holds a role that has no prompt prefix.
var ErrUnsupportedRole = errors.New("unsupported role")

const (
	humanPrefix     = "Human: "
	assistantPrefix = "Assistant: "
)

// FormatPrompt renders the nodes, oldest first, as a Human/Assistant
// transcript. System turns carry no text and are skipped. A trailing
// "Assistant: " cue is added when the last turn is the user's.
func FormatPrompt(nodes []PathNode) (string, error) {
	lines := make([]string, 0, len(nodes)+1)
	for _, n := range nodes {
		switch n.Role {
		case RoleUser:
			lines = append(lines, humanPrefix+n.Content.Body)
		case RoleAssistant:
			lines = append(lines, assistantPrefix+n.Content.Body)
		case RoleSystem:
		default:
			return "", fmt.Errorf("%w: %q (message %s)", ErrUnsupportedRole, n.Role, n.ID)
		}
	}
	if len(nodes) > 0 && nodes[len(nodes)-1].Role == RoleUser {
		lines = append(lines, assistantPrefix)
	}
	return strings.Join(lines, "\n"), nil
}
