package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockEmitter tracks calls for testing
type mockEmitter struct {
	emitCalls  []*ResolveEvent
	closeCalls int
	closeErr   error
}

func (m *mockEmitter) Emit(event *ResolveEvent) {
	m.emitCalls = append(m.emitCalls, event)
}

func (m *mockEmitter) Close() error {
	m.closeCalls++
	return m.closeErr
}

func TestMultiEmitter_EmitCallsAllEmitters(t *testing.T) {
	mock1 := &mockEmitter{}
	mock2 := &mockEmitter{}

	emitter := NewMultiEmitter([]EventEmitter{mock1, mock2}, zap.NewNop())

	event := &ResolveEvent{
		RequestID: "test-123",
		EventType: EventTypeResolve,
		CreatedAt: time.Now(),
	}
	emitter.Emit(event)

	require.Len(t, mock1.emitCalls, 1)
	require.Len(t, mock2.emitCalls, 1)
	assert.Same(t, event, mock1.emitCalls[0])
}

func TestMultiEmitter_CloseCombinesErrors(t *testing.T) {
	mock1 := &mockEmitter{closeErr: errors.New("first failed")}
	mock2 := &mockEmitter{}
	mock3 := &mockEmitter{closeErr: errors.New("third failed")}

	emitter := NewMultiEmitter([]EventEmitter{mock1, mock2, mock3}, zap.NewNop())

	err := emitter.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "third failed")

	assert.Equal(t, 1, mock1.closeCalls)
	assert.Equal(t, 1, mock2.closeCalls)
	assert.Equal(t, 1, mock3.closeCalls)
}

func TestMultiEmitter_CloseNilWhenAllSucceed(t *testing.T) {
	emitter := NewMultiEmitter([]EventEmitter{&mockEmitter{}, &NoopEmitter{}}, zap.NewNop())
	assert.NoError(t, emitter.Close())
}

func TestNoopEmitter(t *testing.T) {
	var emitter EventEmitter = &NoopEmitter{}
	emitter.Emit(&ResolveEvent{RequestID: "ignored"})
	assert.NoError(t, emitter.Close())
}
