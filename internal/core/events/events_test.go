package events

import (
	"testing"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

func TestHub_ForwardsInOrder(t *testing.T) {
	var got []string
	first := ObserverFunc(func(ev domain.Event) { got = append(got, "first:"+string(ev.Type)) })
	second := ObserverFunc(func(ev domain.Event) { got = append(got, "second:"+string(ev.Type)) })

	hub := NewHub(first, nil)
	hub.Subscribe(second)

	hub.Observe(domain.Event{Type: domain.EventJobCreated})
	hub.Observe(domain.Event{Type: domain.EventJobFinished})

	want := []string{
		"first:job created",
		"second:job created",
		"first:job finished",
		"second:job finished",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d deliveries, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLogObserver_AcceptsAllEventTypes(t *testing.T) {
	o := NewLogObserver(nil)
	job := &domain.Job{ID: "j1", Status: domain.JobFailed}
	for _, typ := range []domain.EventType{
		domain.EventJobCreated,
		domain.EventJobUpdated,
		domain.EventJobFailed,
		domain.EventJobDead,
		domain.EventRetryScheduled,
	} {
		o.Observe(domain.Event{Type: typ, Job: job, Record: &domain.RetryRecord{ID: "r1"}})
	}
}
