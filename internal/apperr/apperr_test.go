package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Validation("memory.CreateMessage", "content is empty")
	wrapped := fmt.Errorf("save reply: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindValidation))
	assert.False(t, IsKind(nil, KindValidation))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindNetwork, "ollama.Embed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ollama.Embed: network: connection refused", err.Error())
	assert.Nil(t, Wrap(KindNetwork, "x", nil))
}

func TestErrorMessageWithMsgAndCause(t *testing.T) {
	err := &Error{Kind: KindBusinessLogic, Msg: "create conversation", Err: errors.New("fk")}
	assert.Equal(t, "business_logic: create conversation: fk", err.Error())
}
