package feed

import (
	"fmt"
	"testing"
	"time"
)

func TestRecentBeforeWrap(t *testing.T) {
	f := New(5)
	for i := 0; i < 3; i++ {
		f.Add(Entry{Text: fmt.Sprint(i)})
	}
	got := f.Recent(0)
	if len(got) != 3 || got[0].Text != "0" || got[2].Text != "2" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[0].ID == "" || got[0].At.IsZero() {
		t.Fatalf("id and time must be filled: %+v", got[0])
	}
}

func TestRingKeepsNewest(t *testing.T) {
	f := New(3)
	for i := 0; i < 7; i++ {
		f.Add(Entry{Text: fmt.Sprint(i)})
	}
	got := f.Recent(0)
	want := []string{"4", "5", "6"}
	if len(got) != len(want) {
		t.Fatalf("want %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Fatalf("entry %d: got %q want %q", i, got[i].Text, want[i])
		}
	}

	last := f.Recent(2)
	if len(last) != 2 || last[0].Text != "5" || last[1].Text != "6" {
		t.Fatalf("limit: %+v", last)
	}
}

func TestSubscribe(t *testing.T) {
	f := New(3)
	ch, cancel := f.Subscribe()
	f.Add(Entry{Text: "hello", Direction: Inbound})

	select {
	case e := <-ch:
		if e.Text != "hello" {
			t.Fatalf("got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no entry delivered")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel must be closed after cancel")
	}
	f.Add(Entry{Text: "after cancel"})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	f := New(10)
	_, cancel := f.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			f.Add(Entry{Text: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Add blocked on a slow subscriber")
	}
}
