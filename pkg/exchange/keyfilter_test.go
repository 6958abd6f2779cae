package exchange

import (
	"bytes"
	"testing"
)

func TestKeyFilterNilAcceptsEverything(t *testing.T) {
	var f *KeyFilter
	if !f.Accepts(mustAppend(Uint64(1))) {
		t.Fatal("expected a nil filter to accept every key")
	}
	got, ok := f.Next(mustAppend(Uint64(1)), Forward)
	if !ok || !bytes.Equal(got, mustAppend(Uint64(1))) {
		t.Fatal("expected a nil filter's Next to return the key unchanged")
	}
}

func TestKeyFilterAcceptsWithinTerm(t *testing.T) {
	f := NewKeyFilter(Term{From: mustAppend(Uint64(10)), To: mustAppend(Uint64(20))})

	if !f.Accepts(mustAppend(Uint64(10))) {
		t.Error("expected the From boundary to be inclusive")
	}
	if !f.Accepts(mustAppend(Uint64(15))) {
		t.Error("expected a key inside the term to be accepted")
	}
	if f.Accepts(mustAppend(Uint64(20))) {
		t.Error("expected the To boundary to be exclusive")
	}
	if f.Accepts(mustAppend(Uint64(9))) {
		t.Error("expected a key below From to be rejected")
	}
}

func TestKeyFilterUnboundedAboveWhenToEmpty(t *testing.T) {
	f := NewKeyFilter(Term{From: mustAppend(Uint64(10))})
	if !f.Accepts(mustAppend(Uint64(1_000_000))) {
		t.Fatal("expected an empty To to leave the term unbounded above")
	}
}

func TestKeyFilterNextJumpsForwardToNearestTerm(t *testing.T) {
	f := NewKeyFilter(
		Term{From: mustAppend(Uint64(10)), To: mustAppend(Uint64(20))},
		Term{From: mustAppend(Uint64(50)), To: mustAppend(Uint64(60))},
	)

	got, ok := f.Next(mustAppend(Uint64(0)), Forward)
	if !ok || !bytes.Equal(got, mustAppend(Uint64(10))) {
		t.Fatalf("expected a forward jump from before any term to land on the nearest From, got %v ok=%v", got, ok)
	}

	got, ok = f.Next(mustAppend(Uint64(25)), Forward)
	if !ok || !bytes.Equal(got, mustAppend(Uint64(50))) {
		t.Fatalf("expected a forward jump from the gap between terms to land on the next term's From, got %v ok=%v", got, ok)
	}

	_, ok = f.Next(mustAppend(Uint64(100)), Forward)
	if ok {
		t.Fatal("expected no reachable term moving forward past every term")
	}
}

func TestKeyFilterNextReturnsKeyUnchangedWhenAlreadyAccepted(t *testing.T) {
	f := NewKeyFilter(Term{From: mustAppend(Uint64(10)), To: mustAppend(Uint64(20))})
	key := mustAppend(Uint64(15))
	got, ok := f.Next(key, Forward)
	if !ok || !bytes.Equal(got, key) {
		t.Fatal("expected Next to return an already-accepted key unchanged")
	}
}

func TestKeyFilterNextJumpsBackwardToNearestTerm(t *testing.T) {
	f := NewKeyFilter(
		Term{From: mustAppend(Uint64(10)), To: mustAppend(Uint64(20))},
		Term{From: mustAppend(Uint64(50)), To: mustAppend(Uint64(60))},
	)

	got, ok := f.Next(mustAppend(Uint64(100)), Reverse)
	if !ok {
		t.Fatal("expected a reverse jump from past every term to land somewhere")
	}
	if !f.Accepts(got) {
		t.Fatalf("expected the reverse jump target %v to be inside a term", got)
	}

	_, ok = f.Next(mustAppend(Uint64(0)), Reverse)
	if ok {
		t.Fatal("expected no reachable term moving backward before every term")
	}
}
