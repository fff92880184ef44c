package jobs

import (
	"errors"
	"testing"
	"time"

	"livinginsider-scraper/models"
	"livinginsider-scraper/utils"
)

func newTestStore(ttl time.Duration, capacity int) *Store {
	return NewStore(ttl, capacity, utils.NewLogger())
}

func TestJobLifecycleRunningToDone(t *testing.T) {
	s := newTestStore(time.Minute, 10)
	defer s.Close()

	id, ctx := s.Create(models.RunOptions{MaxResults: 10})
	if ctx.Err() != nil {
		t.Fatal("fresh job context must not be cancelled")
	}

	snap, err := s.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != models.StatusRunning {
		t.Errorf("status = %s, want running", snap.Status)
	}
	if len(snap.Rows) != 0 {
		t.Errorf("running job exposed %d rows", len(snap.Rows))
	}
	if _, err := s.Rows(id); !errors.Is(err, ErrNotReady) {
		t.Errorf("rows before done: err = %v, want ErrNotReady", err)
	}

	rows := []*models.Listing{{ListingID: "1"}, {ListingID: "2"}}
	s.Complete(id, rows, func(m *models.JobMeta) { m.TotalParsed = 2 })

	snap, _ = s.Snapshot(id)
	if snap.Status != models.StatusDone {
		t.Errorf("status = %s, want done", snap.Status)
	}
	// rows and final meta must be visible together
	if len(snap.Rows) != 2 || snap.Meta.TotalParsed != 2 {
		t.Errorf("rows=%d parsed=%d, want 2/2 atomically", len(snap.Rows), snap.Meta.TotalParsed)
	}
}

func TestTerminalJobIsNeverRevived(t *testing.T) {
	s := newTestStore(time.Minute, 10)
	defer s.Close()

	id, _ := s.Create(models.RunOptions{})
	s.Fail(id, errors.New("browser launch failed"))

	s.Complete(id, []*models.Listing{{ListingID: "1"}}, nil)
	s.UpdateMeta(id, func(m *models.JobMeta) { m.TotalParsed = 99 })

	snap, _ := s.Snapshot(id)
	if snap.Status != models.StatusError {
		t.Errorf("status = %s, want error to stay terminal", snap.Status)
	}
	if snap.Error == "" {
		t.Error("error message must be populated")
	}
	if snap.Meta.TotalParsed != 0 {
		t.Error("meta mutated after terminal state")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(100*time.Millisecond, 10)
	defer s.Close()

	id, _ := s.Create(models.RunOptions{})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Snapshot(id); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job still present well past its TTL")
}

func TestCapacityEvictsOldestAndClosesSubscribers(t *testing.T) {
	s := newTestStore(time.Minute, 2)
	defer s.Close()

	first, _ := s.Create(models.RunOptions{})
	ch, _, err := s.Subscribe(first)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ch // initial snapshot event

	time.Sleep(5 * time.Millisecond) // distinct CreatedAt ordering
	second, _ := s.Create(models.RunOptions{})
	time.Sleep(5 * time.Millisecond)
	third, _ := s.Create(models.RunOptions{})

	if _, err := s.Snapshot(first); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest job should be evicted, got err=%v", err)
	}
	for _, id := range []string{second, third} {
		if _, err := s.Snapshot(id); err != nil {
			t.Errorf("job %s unexpectedly gone: %v", id, err)
		}
	}

	select {
	case _, open := <-ch:
		if open {
			t.Error("evicted job's subscriber channel delivered instead of closing")
		}
	case <-time.After(time.Second):
		t.Error("evicted job's subscriber channel was not closed")
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	s := newTestStore(time.Minute, 10)
	defer s.Close()

	if _, _, err := s.Subscribe("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscriberReceivesSnapshotThenProgress(t *testing.T) {
	s := newTestStore(time.Minute, 10)
	defer s.Close()

	id, _ := s.Create(models.RunOptions{})
	ch, unsubscribe, err := s.Subscribe(id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	ev := <-ch
	if ev.Message != "snapshot" || ev.Status != models.StatusRunning {
		t.Errorf("first event = %q/%s, want snapshot/running", ev.Message, ev.Status)
	}

	s.UpdateMeta(id, func(m *models.JobMeta) { m.CollectedLinks = 15 })
	s.Broadcast(id, "links collected")

	ev = <-ch
	if ev.Message != "links collected" || ev.Meta.CollectedLinks != 15 {
		t.Errorf("progress event = %q links=%d, want links collected/15", ev.Message, ev.Meta.CollectedLinks)
	}
}

func TestLateSubscriberOnTerminalJob(t *testing.T) {
	s := newTestStore(time.Minute, 10)
	defer s.Close()

	id, _ := s.Create(models.RunOptions{})
	s.Complete(id, nil, nil)

	ch, _, err := s.Subscribe(id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev, open := <-ch
	if !open || ev.Status != models.StatusDone {
		t.Errorf("late subscriber event: open=%v status=%s, want snapshot of done", open, ev.Status)
	}
	if _, open := <-ch; open {
		t.Error("channel should close right after the terminal snapshot")
	}
}

func TestCompletionClosesSubscribers(t *testing.T) {
	s := newTestStore(time.Minute, 10)
	defer s.Close()

	id, _ := s.Create(models.RunOptions{})
	ch, _, _ := s.Subscribe(id)
	<-ch

	s.Complete(id, nil, nil)

	ev, open := <-ch
	if !open || ev.Status != models.StatusDone {
		t.Errorf("final event open=%v status=%s, want done event before close", open, ev.Status)
	}
	if _, open := <-ch; open {
		t.Error("subscriber channel must be closed after the terminal event")
	}
}

func TestCancelSignalsPipelineContext(t *testing.T) {
	s := newTestStore(time.Minute, 10)
	defer s.Close()

	id, ctx := s.Create(models.RunOptions{})
	if err := s.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("pipeline context not cancelled")
	}

	if err := s.Cancel("unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel unknown: err = %v, want ErrNotFound", err)
	}
}
