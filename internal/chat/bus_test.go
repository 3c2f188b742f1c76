package chat

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishSkipsOrigin(t *testing.T) {
	req := require.New(t)
	bus := NewBus()
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	bus.Publish(ChatMessage{Origin: "a", Handle: "alice", Text: "hello"})

	select {
	case msg := <-b:
		req.Equal("hello", msg.Text)
		req.Equal("alice", msg.Handle)
	case <-time.After(time.Second):
		t.Fatal("subscriber b never received the message")
	}

	select {
	case msg := <-a:
		t.Fatalf("origin received its own message: %q", msg.Text)
	default:
	}
}

func TestBus_SlowSubscriberDropsWithoutBlockingOthers(t *testing.T) {
	req := require.New(t)
	bus := NewBus()
	slow := bus.Subscribe("slow") // never drained
	fast := bus.Subscribe("fast")

	total := subscriberBuffer * 2
	for i := 0; i < total; i++ {
		bus.Publish(ChatMessage{Origin: "pub", Text: strconv.Itoa(i)})
		msg := <-fast
		req.Equal(strconv.Itoa(i), msg.Text, "fast subscriber fell out of publish order")
	}

	// The slow subscriber saturated its buffer and missed the rest.
	req.Equal(subscriberBuffer, len(slow))
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	req := require.New(t)
	bus := NewBus()
	ch := bus.Subscribe("a")

	bus.Unsubscribe("a")
	bus.Unsubscribe("a") // idempotent

	_, open := <-ch
	req.False(open)

	// Publishing to nobody in particular must not panic.
	bus.Publish(ChatMessage{Origin: "b", Text: "into the void"})
}

func TestBus_CloseTerminatesAllSubscriptions(t *testing.T) {
	req := require.New(t)
	bus := NewBus()
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	bus.Close()
	bus.Close() // idempotent

	_, open := <-a
	req.False(open)
	_, open = <-b
	req.False(open)

	// A subscription taken after Close comes back already terminated.
	late := bus.Subscribe("late")
	_, open = <-late
	req.False(open)
}
