package phases

import (
	"reflect"
	"sync/atomic"
	"testing"
)

func TestChunk_EvenSplit(t *testing.T) {
	got := chunk([]string{"a", "b", "c", "d"}, 2)
	want := [][]string{{"a", "b"}, {"c", "d"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunk() = %v, want %v", got, want)
	}
}

func TestChunk_UnevenRemainder(t *testing.T) {
	got := chunk([]string{"a", "b", "c"}, 2)
	want := [][]string{{"a", "b"}, {"c"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunk() = %v, want %v", got, want)
	}
}

func TestChunk_SizeZeroReturnsSingleChunk(t *testing.T) {
	got := chunk([]string{"a", "b", "c"}, 0)
	want := [][]string{{"a", "b", "c"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunk() = %v, want %v", got, want)
	}
}

func TestChunk_Empty(t *testing.T) {
	got := chunk(nil, 2)
	if len(got) != 0 {
		t.Fatalf("chunk(nil) = %v, want empty", got)
	}
}

func TestFanOut_RunsEveryItem(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	var count int64
	fanOut(items, 2, func(item string) {
		atomic.AddInt64(&count, 1)
	})
	if count != int64(len(items)) {
		t.Fatalf("fanOut ran %d times, want %d", count, len(items))
	}
}

func TestFanOut_ZeroWidthStillRuns(t *testing.T) {
	items := []string{"a", "b"}
	var count int64
	fanOut(items, 0, func(item string) {
		atomic.AddInt64(&count, 1)
	})
	if count != 2 {
		t.Fatalf("fanOut ran %d times, want 2", count)
	}
}
