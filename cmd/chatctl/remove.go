package main

import (
	"encoding/json"
	"fmt"
	"io"

	"branchchat-backend/internal/conversation"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "remove <conversation.json> <message-id>",
		Short: "Remove a message together with every reply below it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := readConversation(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			messageID := args[1]
			if messageID == conversation.SystemID {
				return fmt.Errorf("the system message cannot be removed")
			}
			node, ok := conv.MessageMap.Get(messageID)
			if !ok {
				return fmt.Errorf("message %s not found", messageID)
			}
			parentID, _ := node.Parent.ID()

			removed := conv.MessageMap.Remove(messageID)
			for _, id := range removed {
				if id == conv.LastMessageID {
					conv.LastMessageID = ""
					if last, ok := conversation.Resolve(conv.MessageMap, parentID).Last(); ok {
						conv.LastMessageID = last.ID
					}
					break
				}
			}
			log.Debug().Strs("removed", removed).Str("last_message_id", conv.LastMessageID).Msg("subtree removed")
			fmt.Fprintf(cmd.ErrOrStderr(), "removed %d message(s)\n", len(removed))

			return writeOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(conv)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}
