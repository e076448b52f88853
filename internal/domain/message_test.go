package domain

import "testing"

func TestThreadSortAscending(t *testing.T) {
	th := Thread{Messages: []Message{
		{ID: "c", CreatedAt: 30},
		{ID: "a", CreatedAt: 10},
		{ID: "b2", CreatedAt: 20},
		{ID: "b1", CreatedAt: 20},
	}}
	th.SortAscending()
	order := []string{"a", "b1", "b2", "c"}
	for i, want := range order {
		if th.Messages[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, th.Messages[i].ID)
		}
	}
}

func TestThreadInsertDirectional(t *testing.T) {
	th := Thread{Messages: []Message{{ID: "mid", CreatedAt: 10}}}
	th.Insert(Message{ID: "out", Outgoing: true})
	th.Insert(Message{ID: "in"})
	if th.Messages[0].ID != "in" {
		t.Fatalf("incoming message should prepend, got %s first", th.Messages[0].ID)
	}
	if th.Messages[len(th.Messages)-1].ID != "out" {
		t.Fatalf("outgoing message should append, got %s last", th.Messages[len(th.Messages)-1].ID)
	}
}

func TestThreadLastActivity(t *testing.T) {
	th := Thread{Messages: []Message{
		{ID: "a", CreatedAt: 10},
		{ID: "c", CreatedAt: 30},
		{ID: "b", CreatedAt: 20},
	}}
	if got := th.LastActivity(); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	empty := Thread{}
	if got := empty.LastActivity(); got != 0 {
		t.Fatalf("expected 0 for empty thread, got %d", got)
	}
}
