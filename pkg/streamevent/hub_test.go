package streamevent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubDeliversInOrder(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe("s1")

	h.Publish(NewTextDelta("s1", "a"))
	h.Publish(NewTextDelta("s1", "b"))
	h.Close("s1")

	var got []string
	for ev := range sub.C {
		got = append(got, ev.TextDelta.Text)
	}
	require.Equal(t, []string{"a", "b"}, got)
	require.False(t, sub.Lagged())
}

func TestHubDropsLaggingSubscriber(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe("s1")

	for i := 0; i < DefaultBufferSize+10; i++ {
		h.Publish(NewTextDelta("s1", "x"))
	}

	for range sub.C {
	}
	require.True(t, sub.Lagged())
}

func TestHubPublishWithNoSubscribersIsNoop(t *testing.T) {
	h := NewHub(nil)
	h.Publish(NewTextDelta("nobody-listening", "x"))
}
