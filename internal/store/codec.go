package store

import (
	"bytes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"branchchat-backend/internal/conversation"
	"branchchat-backend/internal/crypto"
)

var (
	// ErrCorruptMessageMap is returned when a stored blob cannot be decoded.
	ErrCorruptMessageMap = errors.New("corrupt message map")
	// ErrMissingKey is returned when an encrypted blob is read without a key.
	ErrMissingKey = errors.New("message map is encrypted but no encryption key is configured")
)

var sealedPrefix = []byte("enc:v1:")

// MessageMapCodec turns a conversation map into the blob stored in
// ConversationRecord.MessageMap and back. With a master key, blobs are sealed
// with AES-256-GCM under a key derived for the owning user and bound to the
// conversation id. Plain JSON blobs stay readable either way.
type MessageMapCodec struct {
	master []byte
}

// NewMessageMapCodec returns a codec; a nil key stores plain JSON.
func NewMessageMapCodec(masterKey []byte) *MessageMapCodec {
	return &MessageMapCodec{master: masterKey}
}

// Encrypted reports whether Encode seals its output.
func (c *MessageMapCodec) Encrypted() bool { return len(c.master) > 0 }

func (c *MessageMapCodec) Encode(userID, conversationID string, m conversation.Map) ([]byte, error) {
	if m == nil {
		m = conversation.Map{}
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message map: %w", err)
	}
	if !c.Encrypted() {
		return plain, nil
	}

	aead, err := c.aead(userID)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Encrypt(aead, plain, []byte(conversationID))
	if err != nil {
		return nil, fmt.Errorf("sealing message map: %w", err)
	}
	out := make([]byte, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(out, sealedPrefix)
	base64.StdEncoding.Encode(out[len(sealedPrefix):], sealed)
	return out, nil
}

func (c *MessageMapCodec) Decode(userID, conversationID string, blob []byte) (conversation.Map, error) {
	if len(bytes.TrimSpace(blob)) == 0 {
		return conversation.Map{}, nil
	}

	plain := blob
	if bytes.HasPrefix(blob, sealedPrefix) {
		if !c.Encrypted() {
			return nil, ErrMissingKey
		}
		sealed, err := base64.StdEncoding.DecodeString(string(blob[len(sealedPrefix):]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptMessageMap, err)
		}
		aead, err := c.aead(userID)
		if err != nil {
			return nil, err
		}
		if plain, err = crypto.Decrypt(aead, sealed, []byte(conversationID)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptMessageMap, err)
		}
	}

	var m conversation.Map
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMessageMap, err)
	}
	if m == nil {
		m = conversation.Map{}
	}
	return m, nil
}

func (c *MessageMapCodec) aead(userID string) (cipher.AEAD, error) {
	key, err := crypto.DeriveKey(c.master, "message-map:"+userID)
	if err != nil {
		return nil, err
	}
	return crypto.NewAESGCM(key)
}
