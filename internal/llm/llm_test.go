package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeClient is a minimal Client stand-in for the tests in this file that
// don't need real OpenAI wiring; kept here so the contract it exercises
// stays next to its definition.
type fakeClient struct {
	response *ChatResponse
	err      error
	lastReq  ChatRequest
}

func (f *fakeClient) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestFakeClient_RecordsLastRequest(t *testing.T) {
	fc := &fakeClient{response: &ChatResponse{Content: "ok"}}
	req := ChatRequest{Messages: []Message{{Role: "user", Content: "find the count of deals"}}}

	resp, err := fc.Chat(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, req, fc.lastReq)
}

func TestMessage_ToolCallRoundTrip(t *testing.T) {
	m := Message{
		Role: "assistant",
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "run_query", Arguments: `{"sql":"SELECT 1"}`},
		},
	}
	assert.Len(t, m.ToolCalls, 1)
	assert.Equal(t, "run_query", m.ToolCalls[0].Name)
}
