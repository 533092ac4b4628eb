// Tests for the watermark store: bootstrap, monotonic advance, duplicate
// detection and restore merging.
package watermark

import (
	"sync"
	"testing"
	"time"

	"tools.zach/dev/chatsync/internal/model"
)

var (
	ch = model.Channel("s1", "c1")
	t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

// ///////////////////////////////////////////////
// Observe Tests
// ///////////////////////////////////////////////

func TestObserveSequence(t *testing.T) {
	s := New()
	steps := []struct {
		name      string
		ts        time.Time
		wantNew   bool
		wantBoot  bool
		wantAfter time.Time
	}{
		{"first observation bootstraps", t0, false, true, t0},
		{"same timestamp is not new", t0, false, false, t0},
		{"newer is new", t0.Add(time.Second), true, false, t0.Add(time.Second)},
		{"older never regresses", t0.Add(-time.Hour), false, false, t0.Add(time.Second)},
		{"duplicate of newest", t0.Add(time.Second), false, false, t0.Add(time.Second)},
	}
	for _, st := range steps {
		res := s.Observe(ch, st.ts)
		if res.IsNew != st.wantNew || res.Bootstrapped != st.wantBoot {
			t.Fatalf("%s: got %+v", st.name, res)
		}
		if got, _ := s.Get(ch); !got.Equal(st.wantAfter) {
			t.Fatalf("%s: watermark = %v, want %v", st.name, got, st.wantAfter)
		}
	}
}

func TestObserveZeroBootstrap(t *testing.T) {
	s := New()
	s.Observe(ch, time.Time{})
	if !s.Seen(ch) {
		t.Fatal("empty history must still mark the entity as seen")
	}
	if res := s.Observe(ch, t0); !res.IsNew {
		t.Fatal("first message after an empty bootstrap should be new")
	}
}

func TestEntitiesAreIndependent(t *testing.T) {
	s := New()
	s.Observe(model.Server("x"), t0)
	if s.Seen(model.Direct("x")) {
		t.Fatal("direct entity shares state with server entity of the same id")
	}
}

func TestObserveConcurrent(t *testing.T) {
	s := New()
	s.Observe(ch, t0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	news := 0
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every goroutine offers the same timestamp: only one may win.
			if s.Observe(ch, t0.Add(time.Minute)).IsNew {
				mu.Lock()
				news++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if news != 1 {
		t.Fatalf("new results = %d, want exactly 1", news)
	}
}

// ///////////////////////////////////////////////
// Persistence Tests
// ///////////////////////////////////////////////

func TestRestoreKeepsMaximum(t *testing.T) {
	s := New()
	s.Observe(ch, t0.Add(time.Hour))
	v := s.Version()

	s.Restore(map[model.EntityID]time.Time{
		ch:                t0,
		model.Direct("d"): t0,
	})
	if got, _ := s.Get(ch); !got.Equal(t0.Add(time.Hour)) {
		t.Fatalf("restore regressed watermark to %v", got)
	}
	if got, ok := s.Get(model.Direct("d")); !ok || !got.Equal(t0) {
		t.Fatalf("restored watermark = %v, %v", got, ok)
	}
	if s.Version() == v {
		t.Fatal("version did not change on restore")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New()
	s.Observe(ch, t0)
	snap := s.Snapshot()
	snap[ch] = t0.Add(time.Hour)
	if got, _ := s.Get(ch); !got.Equal(t0) {
		t.Fatal("mutating a snapshot changed the store")
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.Observe(ch, t0)
	s.Reset()
	if s.Seen(ch) {
		t.Fatal("watermark survived Reset")
	}
	if res := s.Observe(ch, t0.Add(time.Hour)); !res.Bootstrapped {
		t.Fatal("observation after Reset should bootstrap again")
	}
}

func TestVersionOnlyMovesOnChange(t *testing.T) {
	s := New()
	s.Observe(ch, t0)
	v := s.Version()
	s.Observe(ch, t0)
	if s.Version() != v {
		t.Fatal("duplicate observation changed the version")
	}
}
