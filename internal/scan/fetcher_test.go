package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sruckh/gmail-cleaner/internal/gmail"
)

func setupMessages(mock *gmail.MockAPI, n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("msg%04d", i)
		ids[i] = id
		mock.SetupMessages(&gmail.MessageMeta{
			ID:      id,
			From:    "News <news@example.com>",
			Subject: fmt.Sprintf("Subject %d", i),
		})
	}
	return ids
}

func testFetcher(mock *gmail.MockAPI) *Fetcher {
	return &Fetcher{
		Source:      mock,
		ChunkSize:   100,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}
}

func TestFetcherAllSucceed(t *testing.T) {
	mock := gmail.NewMockAPI()
	ids := setupMessages(mock, 250)

	var progressCalls []int
	metas, failed, err := testFetcher(mock).Fetch(context.Background(), ids,
		func(processed, total int) {
			progressCalls = append(progressCalls, processed)
			if total != 250 {
				t.Errorf("total = %d, want 250", total)
			}
		})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(metas) != 250 || failed != 0 {
		t.Errorf("Fetch() = %d metas, %d failed; want 250, 0", len(metas), failed)
	}
	if len(progressCalls) != 3 {
		t.Fatalf("progress called %d times, want 3", len(progressCalls))
	}
	if last := progressCalls[len(progressCalls)-1]; last != 250 {
		t.Errorf("final progress = %d, want 250", last)
	}
}

func TestFetcherChunkFailsAllRetries(t *testing.T) {
	mock := gmail.NewMockAPI()
	ids := setupMessages(mock, 300)

	// Fail every attempt for the chunk beginning at msg0100.
	mock.MetadataBatchHook = func(call int, chunk []string) error {
		if chunk[0] == "msg0100" {
			return errors.New("transient transport failure")
		}
		return nil
	}

	metas, failed, err := testFetcher(mock).Fetch(context.Background(), ids, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(metas) != 200 {
		t.Errorf("got %d metas, want 200", len(metas))
	}
	if failed != 100 {
		t.Errorf("failed = %d, want 100", failed)
	}

	// The failing chunk should have been attempted MaxRetries times:
	// 4 calls total across 3 chunks plus 2 extra retries.
	if got := len(mock.MetadataBatchCalls); got != 5 {
		t.Errorf("batch calls = %d, want 5", got)
	}
}

func TestFetcherRetrySucceeds(t *testing.T) {
	mock := gmail.NewMockAPI()
	ids := setupMessages(mock, 100)

	mock.MetadataBatchHook = func(call int, chunk []string) error {
		if call == 1 {
			return errors.New("flaky")
		}
		return nil
	}

	metas, failed, err := testFetcher(mock).Fetch(context.Background(), ids, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(metas) != 100 || failed != 0 {
		t.Errorf("Fetch() = %d metas, %d failed; want 100, 0", len(metas), failed)
	}
}

func TestFetcherMissingIDsTallied(t *testing.T) {
	mock := gmail.NewMockAPI()
	ids := setupMessages(mock, 100)

	// Two messages vanish between listing and fetching.
	mock.GetMessageError["msg0003"] = &gmail.NotFoundError{Path: "/messages/msg0003"}
	mock.GetMessageError["msg0007"] = &gmail.NotFoundError{Path: "/messages/msg0007"}

	metas, failed, err := testFetcher(mock).Fetch(context.Background(), ids, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(metas) != 98 {
		t.Errorf("got %d metas, want 98", len(metas))
	}
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
}

func TestFetcherAuthErrorAborts(t *testing.T) {
	mock := gmail.NewMockAPI()
	ids := setupMessages(mock, 300)

	mock.MetadataBatchHook = func(call int, chunk []string) error {
		if chunk[0] == "msg0100" {
			return &gmail.AuthError{StatusCode: 401, Detail: "token revoked"}
		}
		return nil
	}

	metas, _, err := testFetcher(mock).Fetch(context.Background(), ids, nil)
	var authErr *gmail.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Fetch() error = %v, want AuthError", err)
	}
	// First chunk's results survive; no retries for auth failure.
	if len(metas) != 100 {
		t.Errorf("got %d metas before abort, want 100", len(metas))
	}
	if got := len(mock.MetadataBatchCalls); got != 2 {
		t.Errorf("batch calls = %d, want 2 (no retry on auth)", got)
	}
}

func TestFetcherContextCancelled(t *testing.T) {
	mock := gmail.NewMockAPI()
	ids := setupMessages(mock, 200)

	ctx, cancel := context.WithCancel(context.Background())
	mock.MetadataBatchHook = func(call int, chunk []string) error {
		if call == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	_, _, err := testFetcher(mock).Fetch(ctx, ids, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}
