package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishFanOut(t *testing.T) {
	b := New()
	defer b.Close()

	s1 := b.Subscribe(8)
	s2 := b.Subscribe(8)

	b.Publish(IndexStatus{Path: "docs", Status: "indexing"})

	for _, sub := range []*Subscription{s1, s2} {
		ev := recv(t, sub)
		st, ok := ev.(IndexStatus)
		require.True(t, ok)
		assert.Equal(t, "docs", st.Path)
	}
}

func TestTopicFilter(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(8, TypeIndexComplete)

	b.Publish(IndexStatus{Path: "docs", Status: "indexing"})
	b.Publish(IndexComplete{Path: "docs", FilesIndexed: 3, TotalChunks: 12})

	ev := recv(t, sub)
	done, ok := ev.(IndexComplete)
	require.True(t, ok)
	assert.Equal(t, 3, done.FilesIndexed)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(2)

	for i := 0; i < 5; i++ {
		b.Publish(IndexComplete{Path: "docs", FilesIndexed: i})
	}

	assert.Equal(t, uint64(3), sub.Dropped())

	// The newest two events survive.
	first := recv(t, sub).(IndexComplete)
	second := recv(t, sub).(IndexComplete)
	assert.Equal(t, 3, first.FilesIndexed)
	assert.Equal(t, 4, second.FilesIndexed)
}

func TestPerTopicOrdering(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(64)
	for i := 0; i < 10; i++ {
		b.Publish(IndexComplete{FilesIndexed: i})
	}
	for i := 0; i < 10; i++ {
		ev := recv(t, sub).(IndexComplete)
		assert.Equal(t, i, ev.FilesIndexed)
	}
}

func TestSubscriptionClose(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(4)
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Publishing after close must not panic.
	b.Publish(Ping{At: time.Now()})
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	b := New()
	sub := b.Subscribe(4)
	b.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Double close is safe.
	b.Close()
	sub.Close()
}

func TestProviderConnectedType(t *testing.T) {
	ev := ProviderConnected{Provider: "github", FolderPath: "repos/app"}
	assert.Equal(t, "github_connected", ev.EventType())
}
