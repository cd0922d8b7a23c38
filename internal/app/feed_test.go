package app_test

import (
	"sync"
	"testing"
	"time"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
)

func TestFeedSubscribePrimesInitial(t *testing.T) {
	feed := app.NewFeed()
	ch, cancel := feed.Subscribe("b1", domain.Snapshot{InstanceID: "b1", Status: domain.StatusLobby})
	defer cancel()
	if snap := <-ch; snap.Status != domain.StatusLobby {
		t.Fatalf("expected initial LOBBY, got %s", snap.Status)
	}
	if feed.Subscribers("b1") != 1 {
		t.Fatalf("expected one subscriber")
	}
}

func TestFeedSlowSubscriberKeepsNewest(t *testing.T) {
	feed := app.NewFeed()
	ch, cancel := feed.Subscribe("b1", domain.Snapshot{InstanceID: "b1", Status: domain.StatusLobby})
	defer cancel()

	for i := 0; i < 20; i++ {
		feed.Publish(domain.Snapshot{InstanceID: "b1", Status: domain.StatusQuestionActive, CurrentQuestionIndex: i})
	}
	var last domain.Snapshot
	for len(ch) > 0 {
		last = <-ch
	}
	if last.CurrentQuestionIndex != 19 {
		t.Fatalf("expected newest snapshot last, got index %d", last.CurrentQuestionIndex)
	}
}

func TestFeedSubscribeDuringPublishBurst(t *testing.T) {
	feed := app.NewFeed()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				feed.Publish(domain.Snapshot{InstanceID: "b1", CurrentQuestionIndex: i})
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, cancel := feed.Subscribe("b1", domain.Snapshot{InstanceID: "b1"})
			cancel()
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("subscribe stalled behind publishers")
	}
	close(stop)
	wg.Wait()
	if n := feed.Subscribers("b1"); n != 0 {
		t.Fatalf("expected no subscribers after cancel, got %d", n)
	}
}
