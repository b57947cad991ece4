package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattercertis/crawlcore/crawl"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(4)
	ch1, unsub1 := hub.Subscribe()
	defer unsub1()
	ch2, unsub2 := hub.Subscribe()
	defer unsub2()

	hub.Publish(crawl.AppEvent{Type: crawl.EventSessionStarted})

	select {
	case e := <-ch1:
		assert.Equal(t, crawl.EventSessionStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 never received the event")
	}
	select {
	case e := <-ch2:
		assert.Equal(t, crawl.EventSessionStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 never received the event")
	}
}

func TestHub_SlowSubscriberDropsOldestNotNewest(t *testing.T) {
	hub := NewHub(2)
	ch, unsub := hub.Subscribe()
	defer unsub()

	hub.Publish(crawl.AppEvent{Type: crawl.EventBatchStarted, BatchID: crawl.BatchID("1")})
	hub.Publish(crawl.AppEvent{Type: crawl.EventBatchStarted, BatchID: crawl.BatchID("2")})
	hub.Publish(crawl.AppEvent{Type: crawl.EventBatchStarted, BatchID: crawl.BatchID("3")})

	first := <-ch
	second := <-ch
	assert.Equal(t, crawl.BatchID("2"), first.BatchID, "oldest queued event should have been dropped for the ring to stay bounded")
	assert.Equal(t, crawl.BatchID("3"), second.BatchID)
}

func TestHub_UnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	hub := NewHub(4)
	ch, unsub := hub.Subscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	unsub()
	assert.Equal(t, 0, hub.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "unsubscribing must close the subscriber's channel")

	assert.NotPanics(t, func() { hub.Publish(crawl.AppEvent{Type: crawl.EventSessionStarted}) })
}

func TestHub_PublishNeverBlocksWhenNoSubscribers(t *testing.T) {
	hub := NewHub(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(crawl.AppEvent{Type: crawl.EventSessionStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}
