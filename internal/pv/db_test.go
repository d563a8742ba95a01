package pv

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newDB(t *testing.T, specs ...Spec) *DB {
	t.Helper()
	db := New()
	for _, s := range specs {
		if err := db.Add(s); err != nil {
			t.Fatalf("Add %q: %v", s.Name, err)
		}
	}
	return db
}

func TestAdd_InitialValues(t *testing.T) {
	db := newDB(t,
		Spec{Name: "d", Type: TypeDouble},
		Spec{Name: "i", Type: TypeInt, Initial: 1065},
		Spec{Name: "s", Type: TypeString, Initial: "x"},
	)
	if r, _ := db.Get("d"); r.Value != 0.0 {
		t.Errorf("d: got %v (%T), want 0.0", r.Value, r.Value)
	}
	if r, _ := db.Get("i"); r.Value != int64(1065) {
		t.Errorf("i: got %v (%T), want int64 1065", r.Value, r.Value)
	}
	if r, _ := db.Get("s"); r.Value != "x" {
		t.Errorf("s: got %v, want x", r.Value)
	}
	if db.Count() != 3 {
		t.Errorf("Count: got %d, want 3", db.Count())
	}
}

func TestAdd_Duplicate(t *testing.T) {
	db := newDB(t, Spec{Name: "a", Type: TypeDouble})
	if err := db.Add(Spec{Name: "a", Type: TypeInt}); !errors.Is(err, ErrExists) {
		t.Fatalf("err: got %v, want ErrExists", err)
	}
}

func TestAdd_UnknownType(t *testing.T) {
	if err := New().Add(Spec{Name: "a", Type: "enum"}); err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
}

func TestPut_CoercesNumbers(t *testing.T) {
	db := newDB(t,
		Spec{Name: "d", Type: TypeDouble},
		Spec{Name: "i", Type: TypeInt},
	)
	ctx := context.Background()

	if r, err := db.Put(ctx, "d", 3); err != nil || r.Value != 3.0 {
		t.Errorf("Put d=3: got (%v, %v), want 3.0", r.Value, err)
	}
	if r, err := db.Put(ctx, "i", 25.0); err != nil || r.Value != int64(25) {
		t.Errorf("Put i=25.0: got (%v, %v), want int64 25", r.Value, err)
	}
	if r, err := db.Put(ctx, "i", json.Number("7")); err != nil || r.Value != int64(7) {
		t.Errorf("Put i=json 7: got (%v, %v), want int64 7", r.Value, err)
	}
	// 2^63 does not fit int64 and must not wrap to a negative value.
	if _, err := db.Put(ctx, "i", json.Number("9223372036854775808")); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Put i=2^63: got %v, want ErrInvalidValue", err)
	}
	if _, err := db.Put(ctx, "i", float64(1<<63)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Put i=float 2^63: got %v, want ErrInvalidValue", err)
	}
	if r, err := db.Put(ctx, "i", json.Number("-9223372036854775808")); err != nil || r.Value != int64(math.MinInt64) {
		t.Errorf("Put i=-2^63: got (%v, %v), want MinInt64", r.Value, err)
	}
	if _, err := db.Put(ctx, "i", 2.5); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Put i=2.5: got %v, want ErrInvalidValue", err)
	}
	if _, err := db.Put(ctx, "d", "nan"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Put d=string: got %v, want ErrInvalidValue", err)
	}
}

func TestPut_StringMaxLength(t *testing.T) {
	db := newDB(t, Spec{Name: "path", Type: TypeString})
	ctx := context.Background()

	ok := strings.Repeat("a", DefaultMaxLength)
	if _, err := db.Put(ctx, "path", ok); err != nil {
		t.Errorf("Put %d bytes: %v", len(ok), err)
	}
	if _, err := db.Put(ctx, "path", ok+"b"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Put %d bytes: got %v, want ErrInvalidValue", len(ok)+1, err)
	}
	// Length is counted in bytes, so multi-byte names fill up faster.
	if _, err := db.Put(ctx, "path", strings.Repeat("ü", 128)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Put 256-byte utf-8: got %v, want ErrInvalidValue", err)
	}
}

func TestPut_NotFound(t *testing.T) {
	_, err := New().Put(context.Background(), "nope", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err: got %v, want ErrNotFound", err)
	}
}

func TestPut_ReadOnly(t *testing.T) {
	db := newDB(t, Spec{Name: "ro", Type: TypeDouble, ReadOnly: true})
	if _, err := db.Put(context.Background(), "ro", 1.0); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Put: got %v, want ErrReadOnly", err)
	}
	if r, err := db.Write("ro", 2.0); err != nil || r.Value != 2.0 {
		t.Fatalf("Write: got (%v, %v), want 2.0", r.Value, err)
	}
}

func TestPut_HookRunsBeforeCommit(t *testing.T) {
	db := New()
	var seen any
	err := db.Add(Spec{
		Name: "size",
		Type: TypeInt,
		OnPut: func(_ context.Context, v any) error {
			seen = v
			if r, _ := db.Get("size"); r.Value != int64(0) {
				t.Errorf("hook saw committed value %v", r.Value)
			}
			if v.(int64) < 0 {
				return errors.New("negative")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := db.Put(context.Background(), "size", -1); err == nil {
		t.Fatal("expected hook error, got nil")
	}
	if r, _ := db.Get("size"); r.Value != int64(0) {
		t.Errorf("rejected put committed: got %v, want 0", r.Value)
	}
	if seen != int64(-1) {
		t.Errorf("hook value: got %v (%T), want int64 -1", seen, seen)
	}
}

func TestPut_HookMayWriteOtherRecords(t *testing.T) {
	db := newDB(t, Spec{Name: "out", Type: TypeDouble})
	err := db.Add(Spec{
		Name: "in",
		Type: TypeString,
		OnPut: func(_ context.Context, v any) error {
			_, err := db.Write("out", float64(len(v.(string))))
			return err
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := db.Put(context.Background(), "in", "abcd"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := db.Float("out"); got != 4 {
		t.Errorf("out: got %v, want 4", got)
	}
}

func TestCommit_SeqAndTimestamp(t *testing.T) {
	db := newDB(t, Spec{Name: "a", Type: TypeDouble}, Spec{Name: "b", Type: TypeDouble})
	at := time.Date(2024, 11, 18, 12, 0, 0, 0, time.UTC)
	db.now = fixedClock(at)

	ra, _ := db.Write("a", 1.0)
	rb, _ := db.Write("b", 1.0)
	if rb.Seq <= ra.Seq {
		t.Errorf("Seq: got a=%d b=%d, want increasing", ra.Seq, rb.Seq)
	}
	if !ra.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt: got %v, want %v", ra.UpdatedAt, at)
	}
}

func TestList_SortedByName(t *testing.T) {
	db := newDB(t,
		Spec{Name: "ratio", Type: TypeDouble},
		Spec{Name: "ImagePathPrimary", Type: TypeString},
		Spec{Name: "ROI_size", Type: TypeInt},
	)
	got := db.List()
	want := []string{"ImagePathPrimary", "ROI_size", "ratio"}
	for i, r := range got {
		if r.Name != want[i] {
			t.Errorf("List[%d]: got %q, want %q", i, r.Name, want[i])
		}
	}
}

func TestSubscribe_ReceivesCommits(t *testing.T) {
	db := newDB(t, Spec{Name: "a", Type: TypeDouble})
	ch, cancel := db.Subscribe(4)
	defer cancel()

	db.Write("a", 5.0) //nolint:errcheck

	select {
	case r := <-ch:
		if r.Name != "a" || r.Value != 5.0 {
			t.Errorf("record: got %s=%v, want a=5", r.Name, r.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record")
	}
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	db := newDB(t, Spec{Name: "a", Type: TypeDouble})
	_, cancel := db.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			db.Write("a", float64(i)) //nolint:errcheck
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write blocked on a full subscriber")
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	db := New()
	ch, cancel := db.Subscribe(1)
	if n := db.Subscribers(); n != 1 {
		t.Errorf("Subscribers: got %d, want 1", n)
	}
	cancel()
	cancel() // idempotent
	if n := db.Subscribers(); n != 0 {
		t.Errorf("Subscribers after cancel: got %d, want 0", n)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}
