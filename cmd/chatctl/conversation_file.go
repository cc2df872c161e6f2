package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"branchchat-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// readConversation loads an exported conversation from path, or from in when
// path is "-".
func readConversation(in io.Reader, path string) (*models.Conversation, error) {
	var r io.Reader = in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation: %w", err)
		}
		defer f.Close()
		r = f
	}

	var conv models.Conversation
	if err := json.NewDecoder(r).Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", path, err)
	}
	if conv.MessageMap == nil {
		return nil, fmt.Errorf("conversation %s has no messageMap", path)
	}
	log.Debug().Str("conversation_id", conv.ID).Int("messages", len(conv.MessageMap)).Msg("conversation loaded")
	return &conv, nil
}

// writeOutput runs write against the file at path, or against out when path
// is empty or "-".
func writeOutput(out io.Writer, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(out)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
