package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"branchchat-backend/internal/conversation"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1).
			MarginBottom(1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true).
			Padding(0, 1)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true).
			Padding(0, 1)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	bodyStyle = lipgloss.NewStyle().
			Padding(0, 2).
			MarginBottom(1)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208")).
			Bold(true)
)

func newPathCmd() *cobra.Command {
	var selected, format string
	cmd := &cobra.Command{
		Use:   "path <conversation.json>",
		Short: "Show the branch of a conversation that the UI would display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := readConversation(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if selected == "" {
				selected = conv.LastMessageID
			}
			p := conversation.Resolve(conv.MessageMap, selected)

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				return renderPath(out, conv.Title, p)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(transcriptOf(conv.ID, conv.Title, p))
			case "yaml":
				enc := yaml.NewEncoder(out)
				defer enc.Close()
				return enc.Encode(transcriptOf(conv.ID, conv.Title, p))
			default:
				return fmt.Errorf("unknown format %q (text, json, yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&selected, "selected", "", "Message to show the branch through (default: last message)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json, yaml")
	return cmd
}

func renderPath(w io.Writer, title string, p conversation.Path) error {
	var b strings.Builder
	if title == "" {
		title = "Untitled conversation"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	for _, n := range p.Nodes {
		label := userStyle.Render("User")
		if n.Role == conversation.RoleAssistant {
			label = assistantStyle.Render("Assistant")
		}
		meta := n.ID
		if len(n.Sibling) > 1 {
			meta = fmt.Sprintf("%s  branch %d/%d", n.ID, n.SiblingIndex()+1, len(n.Sibling))
		}
		b.WriteString(label + " " + metaStyle.Render(meta) + "\n")
		b.WriteString(bodyStyle.Render(n.Content.Body) + "\n")
	}
	for _, t := range p.Truncations {
		b.WriteString(warnStyle.Render(fmt.Sprintf("path truncated at %s: %s -> %s", t.NodeID, t.Reason, t.Ref)) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
