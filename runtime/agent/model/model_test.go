package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basinlabs/codeagent/runtime/agent/model"
)

func TestMessageText(t *testing.T) {
	msg := model.Message{
		Role: model.ConversationRoleModel,
		Parts: []model.Part{
			{Text: "```tool_code\n"},
			{Text: "final_answer(1)\n```"},
		},
	}
	assert.Equal(t, "```tool_code\nfinal_answer(1)\n```", msg.Text())
}

func TestMessageTextEmpty(t *testing.T) {
	var msg model.Message
	assert.Equal(t, "", msg.Text())
}
