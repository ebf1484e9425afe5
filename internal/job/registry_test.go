package job

import (
	"errors"
	"sync"
	"testing"
)

func TestBeginRejectsWhileRunning(t *testing.T) {
	r := NewRegistry()

	first, err := r.Begin(KindScan)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if _, err := r.Begin(KindScan); !errors.Is(err, ErrJobRunning) {
		t.Errorf("second Begin() error = %v, want ErrJobRunning", err)
	}

	// A different kind is unaffected.
	if _, err := r.Begin(KindDeleteScan); err != nil {
		t.Errorf("Begin(other kind) error = %v", err)
	}

	first.Complete("done")
	if _, err := r.Begin(KindScan); err != nil {
		t.Errorf("Begin() after Complete error = %v", err)
	}
}

func TestBeginAfterFailureResets(t *testing.T) {
	r := NewRegistry()

	j, _ := r.Begin(KindMarkRead)
	j.Progress(40)
	j.Update(func(c *Counters) { c.MarkedCount = 77 })
	j.Fail(errors.New("token revoked"))

	st := r.Status(KindMarkRead)
	if !st.Done || st.Error == "" {
		t.Fatalf("failed job status = %+v, want done with error", st)
	}
	if st.Progress != 40 {
		t.Errorf("progress after Fail = %d, want frozen at 40", st.Progress)
	}

	if _, err := r.Begin(KindMarkRead); err != nil {
		t.Fatalf("Begin() after failure error = %v", err)
	}

	st = r.Status(KindMarkRead)
	if st.Progress != 0 || st.Error != "" || st.Done || st.MarkedCount != 0 {
		t.Errorf("status after restart = %+v, want zeroed", st)
	}
}

func TestStatusIdleKind(t *testing.T) {
	r := NewRegistry()
	st := r.Status(KindDownload)
	if st.Done || st.Progress != 0 || st.Kind != KindDownload {
		t.Errorf("idle status = %+v", st)
	}
	if st.Message == "" {
		t.Error("idle status should carry a message")
	}
}

func TestProgressMonotonic(t *testing.T) {
	r := NewRegistry()
	j, _ := r.Begin(KindArchive)

	j.Progress(30)
	j.Progress(20) // must not regress
	if got := r.Status(KindArchive).Progress; got != 30 {
		t.Errorf("progress = %d, want 30", got)
	}

	j.Progress(250) // clamped
	if got := r.Status(KindArchive).Progress; got != 100 {
		t.Errorf("progress = %d, want clamped to 100", got)
	}
}

func TestCompleteForcesProgress(t *testing.T) {
	r := NewRegistry()
	j, _ := r.Begin(KindDeleteBulk)
	j.Progress(61)
	j.Complete("all trashed")

	st := r.Status(KindDeleteBulk)
	if st.Progress != 100 || !st.Done || st.Error != "" {
		t.Errorf("status = %+v, want done at 100 without error", st)
	}
	if st.Message != "all trashed" {
		t.Errorf("message = %q", st.Message)
	}
	if st.EndedAt.IsZero() {
		t.Error("EndedAt not set")
	}
}

func TestCountersUpdate(t *testing.T) {
	r := NewRegistry()
	j, _ := r.Begin(KindDeleteBulk)

	j.Update(func(c *Counters) {
		c.TotalSenders = 5
		c.CurrentSender = 2
	})
	j.Update(func(c *Counters) { c.DeletedCount = 1200 })

	st := r.Status(KindDeleteBulk)
	if st.TotalSenders != 5 || st.CurrentSender != 2 || st.DeletedCount != 1200 {
		t.Errorf("counters = %+v", st.Counters)
	}
}

// Pollers racing the writer must always observe internally consistent
// snapshots; run with -race.
func TestSnapshotConsistencyUnderRace(t *testing.T) {
	r := NewRegistry()
	j, _ := r.Begin(KindScan)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i <= 100; i++ {
			j.Progress(i)
			j.Update(func(c *Counters) { c.FetchedCount = i * 10 })
		}
		j.Complete("done")
		close(stop)
	}()

	for k := 0; k < 4; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				st := r.Status(KindScan)
				if st.Progress < 0 || st.Progress > 100 {
					t.Errorf("torn progress %d", st.Progress)
					return
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()

	st := r.Status(KindScan)
	if !st.Done || st.Progress != 100 {
		t.Errorf("final status = %+v", st)
	}
}
