package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "branchchat.messages.appended", Subject("branchchat", MessagesAppended))
	assert.Equal(t, "conversation.deleted", Subject("", ConversationDeleted))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: ConversationCreated}))
	p.Close()
}
