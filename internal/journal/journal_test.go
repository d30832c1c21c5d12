package journal

import (
	"sync"
	"testing"
	"time"
)

func TestJournalRecordAndQuery(t *testing.T) {
	j := New(5)
	now := time.Now()

	for i := 0; i < 3; i++ {
		j.Record(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Kind:    KindTicket,
			Outcome: OutcomeDelivered,
		})
	}

	entries := j.Query(time.Time{}, "", 0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestJournalRingOverwrite(t *testing.T) {
	j := New(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		j.Record(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Kind:    KindCleanup,
			Outcome: OutcomeOK,
			Deleted: i,
		})
	}

	entries := j.Query(time.Time{}, "", 0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring size), got %d", len(entries))
	}
	// Should be entries 2, 3, 4 (oldest first)
	if entries[0].Deleted != 2 {
		t.Fatalf("expected first entry deleted=2, got %d", entries[0].Deleted)
	}
	if entries[2].Deleted != 4 {
		t.Fatalf("expected last entry deleted=4, got %d", entries[2].Deleted)
	}
}

func TestJournalQuerySince(t *testing.T) {
	j := New(10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		j.Record(Entry{Time: now.Add(time.Duration(i) * time.Second), Kind: KindTicket})
	}

	entries := j.Query(now.Add(3*time.Second), "", 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries since t+3s, got %d", len(entries))
	}
}

func TestJournalQueryKindAndLimit(t *testing.T) {
	j := New(10)
	j.Record(Entry{Kind: KindTicket, Ticket: "1"})
	j.Record(Entry{Kind: KindCleanup})
	j.Record(Entry{Kind: KindTicket, Ticket: "2"})
	j.Record(Entry{Kind: KindTicket, Ticket: "3"})

	entries := j.Query(time.Time{}, KindTicket, 2)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Ticket != "2" || entries[1].Ticket != "3" {
		t.Errorf("got %q, %q; want newest two", entries[0].Ticket, entries[1].Ticket)
	}
}

func TestJournalStampsTime(t *testing.T) {
	j := New(1)
	j.Record(Entry{Kind: KindHealth})
	if j.Query(time.Time{}, "", 0)[0].Time.IsZero() {
		t.Error("expected time to be stamped")
	}
}

func TestJournalNilRecord(t *testing.T) {
	var j *Journal
	j.Record(Entry{Kind: KindTicket})
}

func TestJournalConcurrent(t *testing.T) {
	j := New(50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				j.Record(Entry{Kind: KindTicket})
				j.Query(time.Time{}, KindTicket, 5)
			}
		}()
	}
	wg.Wait()
	if j.Len() != 50 {
		t.Errorf("len = %d, want 50", j.Len())
	}
}
