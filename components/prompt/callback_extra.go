package prompt

import (
	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/schema"
)

type CallbackInput struct {
	Variables map[string]any
	Templates []schema.MessagesTemplate
	Extra     map[string]any
}

type CallbackOutput struct {
	Result    []*schema.Message
	Templates []schema.MessagesTemplate
	Extra     map[string]any
}

func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case map[string]any:
		return &CallbackInput{Variables: t}
	default:
		return nil
	}
}

func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case []*schema.Message:
		return &CallbackOutput{Result: t}
	default:
		return nil
	}
}
