package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/signal"
)

var key = signal.Key{Strategy: "momentum", Symbol: "BTCUSDT"}

func TestHub_DeliversInOrder(t *testing.T) {
	hub := NewHub(64)
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	at := time.Now()
	hub.Publish(key, at, signal.Opened{Signal: signal.Signal{ID: "1"}})
	hub.Publish(key, at, signal.Active{Signal: signal.Signal{ID: "1"}, Price: 50000})
	hub.Publish(key, at, signal.Closed{Signal: signal.Signal{ID: "1"}, Reason: signal.CloseTakeProfit})

	want := []string{"opened", "active", "closed"}
	for _, kind := range want {
		select {
		case ev := <-ch:
			assert.Equal(t, kind, ev.Kind)
			assert.Equal(t, key, ev.Key)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestHub_FanoutToAllSubscribers(t *testing.T) {
	hub := NewHub(64)
	defer hub.Close()

	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish(key, time.Now(), signal.Opened{Signal: signal.Signal{ID: "1"}})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "opened", ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestHub_RiskEventsCarryError(t *testing.T) {
	hub := NewHub(64)
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.PublishRisk(key, time.Now(), fmt.Errorf("rejected [sl_distance]: too tight"))

	ev := <-ch
	assert.Equal(t, "risk", ev.Kind)
	assert.Contains(t, ev.Risk, "sl_distance")
	assert.Nil(t, ev.Result)
}

func TestHub_SlowSubscriberDroppedWithFault(t *testing.T) {
	hub := NewHub(2)
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	// 无人消费，第三条溢出
	for i := 0; i < 3; i++ {
		hub.Publish(key, time.Now(), signal.Opened{Signal: signal.Signal{ID: "1"}})
	}

	select {
	case err := <-hub.Faults():
		var overflow *OverflowError
		require.ErrorAs(t, err, &overflow)
	case <-time.After(time.Second):
		t.Fatal("expected an overflow fault")
	}

	// 被踢出的订阅者通道被关闭：排空后读到关闭信号
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestHub_PublishFaultCarriesKeyAndCause(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	cause := fmt.Errorf("oracle unreachable")
	hub.PublishFault(key, cause)

	select {
	case err := <-hub.Faults():
		var fault *EngineFault
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, key, fault.Key)
		assert.ErrorIs(t, err, cause)
	case <-time.After(time.Second):
		t.Fatal("expected an engine fault")
	}
}

func TestHub_PublishFaultAfterCloseIsNoop(t *testing.T) {
	hub := NewHub(4)
	hub.Close()
	hub.PublishFault(key, fmt.Errorf("late"))

	_, open := <-hub.Faults()
	assert.False(t, open)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(64)
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	cancel()

	hub.Publish(key, time.Now(), signal.Opened{Signal: signal.Signal{ID: "1"}})

	_, open := <-ch
	assert.False(t, open)
}

func TestHub_CloseIsIdempotentAndStopsPublish(t *testing.T) {
	hub := NewHub(64)
	ch, _ := hub.Subscribe()

	hub.Close()
	hub.Close()
	hub.Publish(key, time.Now(), signal.Opened{Signal: signal.Signal{ID: "1"}})

	_, open := <-ch
	assert.False(t, open)
}

func TestEvent_MarshalPayload(t *testing.T) {
	ev := Event{
		Key:    key,
		KeyStr: key.String(),
		At:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Kind:   "closed",
		Result: signal.Closed{Signal: signal.Signal{ID: "1"}, Reason: signal.CloseTakeProfit, ExitPrice: 52000},
	}
	data, err := ev.MarshalPayload()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"closed"`)
	assert.Contains(t, string(data), `"momentum:BTCUSDT"`)
	assert.Contains(t, string(data), `"exit_price":52000`)
}
