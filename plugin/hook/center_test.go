package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_NoHandlers(t *testing.T) {
	hc := NewHookCenter()
	out, err := hc.Trigger(context.Background(), BattleFinished, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestTrigger_NilCenter(t *testing.T) {
	var hc *HookCenter
	out, err := hc.Trigger(context.Background(), WarFinished, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestTrigger_DataPassThrough(t *testing.T) {
	hc := NewHookCenter()
	hc.Register("ev", 0, "double", func(_ context.Context, _ string, data any) (any, error) {
		return data.(int) * 2, nil
	})
	hc.Register("ev", 1, "addTen", func(_ context.Context, _ string, data any) (any, error) {
		return data.(int) + 10, nil
	})
	out, err := hc.Trigger(context.Background(), "ev", 5)
	require.NoError(t, err)
	assert.Equal(t, 20, out)
}

func TestTrigger_PriorityThenRegistrationOrder(t *testing.T) {
	hc := NewHookCenter()
	var order []string
	rec := func(tag string) HookFn {
		return func(_ context.Context, _ string, d any) (any, error) {
			order = append(order, tag)
			return d, nil
		}
	}
	hc.Register("ev", 10, "late", rec("late"))
	hc.Register("ev", 1, "a", rec("a"))
	hc.Register("ev", 1, "b", rec("b"))
	_, err := hc.Trigger(context.Background(), "ev", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "late"}, order)
}

func TestTrigger_InterruptStops(t *testing.T) {
	hc := NewHookCenter()
	second := false
	hc.Register("ev", 0, "stop", func(_ context.Context, _ string, d any) (any, error) {
		return d, ErrInterrupt
	})
	hc.Register("ev", 1, "never", func(_ context.Context, _ string, d any) (any, error) {
		second = true
		return d, nil
	})
	_, err := hc.Trigger(context.Background(), "ev", nil)
	assert.ErrorIs(t, err, ErrInterrupt)
	assert.False(t, second)
}

func TestTrigger_ErrorsDoNotStopChain(t *testing.T) {
	hc := NewHookCenter()
	boom := errors.New("sink down")
	ran := false
	hc.Register("ev", 0, "bad", func(_ context.Context, _ string, d any) (any, error) {
		return nil, boom
	})
	hc.Register("ev", 1, "good", func(_ context.Context, _ string, d any) (any, error) {
		ran = true
		assert.Equal(t, "payload", d)
		return d, nil
	})
	out, err := hc.Trigger(context.Background(), "ev", "payload")
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
	assert.Equal(t, "payload", out)
}

func TestUnregister(t *testing.T) {
	hc := NewHookCenter()
	fn := func(_ context.Context, _ string, d any) (any, error) { return d, nil }
	hc.RegisterMany(AllEvents, 0, "sse", fn)
	hc.Register(BattleFinished, 0, "audit", fn)
	assert.Equal(t, 2, hc.Count(BattleFinished))

	hc.Unregister(BattleFinished, "audit")
	assert.Equal(t, 1, hc.Count(BattleFinished))

	hc.UnregisterAll("sse")
	for _, ev := range AllEvents {
		assert.Zero(t, hc.Count(ev))
	}
}
