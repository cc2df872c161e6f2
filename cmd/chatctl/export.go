package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"branchchat-backend/internal/conversation"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// transcript is the flat export form of a resolved path.
type transcript struct {
	ConversationID string              `json:"conversationId" yaml:"conversation_id"`
	Title          string              `json:"title" yaml:"title"`
	Messages       []transcriptMessage `json:"messages" yaml:"messages"`
	Truncated      bool                `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

type transcriptMessage struct {
	ID         string `json:"id" yaml:"id"`
	Role       string `json:"role" yaml:"role"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Body       string `json:"body" yaml:"body"`
	CreateTime int64  `json:"createTime,omitempty" yaml:"create_time,omitempty"`
	Branches   int    `json:"branches,omitempty" yaml:"branches,omitempty"`
}

func transcriptOf(id, title string, p conversation.Path) transcript {
	t := transcript{ConversationID: id, Title: title, Truncated: !p.Complete()}
	for _, n := range p.Nodes {
		m := transcriptMessage{
			ID:         n.ID,
			Role:       string(n.Role),
			Model:      n.Model,
			Body:       n.Content.Body,
			CreateTime: n.CreateTime,
		}
		if len(n.Sibling) > 1 {
			m.Branches = len(n.Sibling)
		}
		t.Messages = append(t.Messages, m)
	}
	return t
}

func newExportCmd() *cobra.Command {
	var selected, format, output string
	cmd := &cobra.Command{
		Use:   "export <conversation.json>",
		Short: "Export the displayed branch of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := readConversation(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if selected == "" {
				selected = conv.LastMessageID
			}
			t := transcriptOf(conv.ID, conv.Title, conversation.Resolve(conv.MessageMap, selected))

			var write func(io.Writer) error
			switch format {
			case "md", "markdown":
				write = func(w io.Writer) error { return writeMarkdown(w, t) }
			case "json":
				write = func(w io.Writer) error {
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					return enc.Encode(t)
				}
			case "yaml":
				write = func(w io.Writer) error {
					enc := yaml.NewEncoder(w)
					defer enc.Close()
					return enc.Encode(t)
				}
			default:
				return fmt.Errorf("unknown format %q (md, json, yaml)", format)
			}
			return writeOutput(cmd.OutOrStdout(), output, write)
		},
	}
	cmd.Flags().StringVar(&selected, "selected", "", "Message to export the branch through (default: last message)")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Output format: md, json, yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func writeMarkdown(w io.Writer, t transcript) error {
	var b strings.Builder
	title := t.Title
	if title == "" {
		title = "Conversation " + t.ConversationID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Conversation:** %s  \n", t.ConversationID)
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(t.Messages))
	if t.Truncated {
		b.WriteString("> This branch ends early: the stored conversation has broken links.\n\n")
	}
	b.WriteString("---\n\n")

	for i, m := range t.Messages {
		actor := "User"
		if m.Role == string(conversation.RoleAssistant) {
			actor = "Assistant"
		}
		suffix := ""
		if m.Model != "" && m.Role == string(conversation.RoleAssistant) {
			suffix = fmt.Sprintf(" (%s)", m.Model)
		}
		fmt.Fprintf(&b, "**%s:**%s\n\n%s\n\n", actor, suffix, m.Body)
		if i < len(t.Messages)-1 {
			b.WriteString("---\n\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
