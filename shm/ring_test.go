package shm

import (
	"encoding/binary"
	"testing"
)

func u64Record(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func readU64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func TestRingFIFO(t *testing.T) {
	restore := SetSegmentDirForTest(t.TempDir())
	defer restore()

	r, err := AcquireRing("ring-fifo", 8, 8, ModeCreate)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer r.Release()

	for i := uint64(0); i < 5; i++ {
		ok, err := r.Write(u64Record(i))
		if err != nil || !ok {
			t.Fatalf("write %d: ok=%v err=%v", i, ok, err)
		}
	}

	for i := uint64(0); i < 5; i++ {
		out := make([]byte, 8)
		ok, err := r.Read(out)
		if err != nil || !ok {
			t.Fatalf("read %d: ok=%v err=%v", i, ok, err)
		}
		if got := readU64(out); got != i {
			t.Fatalf("read %d = %d, want %d", i, got, i)
		}
	}
}

func TestRingFullness(t *testing.T) {
	restore := SetSegmentDirForTest(t.TempDir())
	defer restore()

	r, err := AcquireRing("ring-full", 4, 8, ModeCreate)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer r.Release()

	for i := uint64(0); i < 4; i++ {
		if ok, _ := r.Write(u64Record(i)); !ok {
			t.Fatalf("write %d should have succeeded", i)
		}
	}

	if _, ok := r.WriteSlot(); ok {
		t.Fatal("WriteSlot() on full ring returned ok=true")
	}
	if ok, _ := r.Write(u64Record(99)); ok {
		t.Fatal("Write() on full ring returned ok=true")
	}

	out := make([]byte, 8)
	if ok, _ := r.Read(out); !ok {
		t.Fatal("Read() on non-empty ring returned ok=false")
	}
	if _, ok := r.WriteSlot(); !ok {
		t.Fatal("WriteSlot() after one read should succeed")
	}
}

func TestRingOverwrite(t *testing.T) {
	restore := SetSegmentDirForTest(t.TempDir())
	defer restore()

	const capacity = 4
	r, err := AcquireRing("ring-overwrite", capacity, 8, ModeCreate)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer r.Release()

	const k = 10
	for i := uint64(1); i <= k; i++ {
		if err := r.WriteOverwrite(u64Record(i)); err != nil {
			t.Fatalf("overwrite %d: %v", i, err)
		}
	}

	want := uint64(k - capacity + 1)
	for r.Available() > 0 {
		out := make([]byte, 8)
		ok, err := r.Read(out)
		if err != nil || !ok {
			t.Fatalf("read: ok=%v err=%v", ok, err)
		}
		if got := readU64(out); got != want {
			t.Fatalf("read %d, want %d", got, want)
		}
		want++
	}
	if want != k+1 {
		t.Fatalf("drained up to %d, want %d", want-1, k)
	}
}

func TestRingFIFOUnderContention(t *testing.T) {
	restore := SetSegmentDirForTest(t.TempDir())
	defer restore()

	const n = 100000
	r, err := AcquireRing("ring-contention", 256, 8, ModeCreate)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer r.Release()

	done := make(chan error, 1)
	go func() {
		for i := uint64(0); i < n; i++ {
			for {
				if ok, err := r.Write(u64Record(i)); err != nil {
					done <- err
					return
				} else if ok {
					break
				}
			}
		}
		done <- nil
	}()

	out := make([]byte, 8)
	for i := uint64(0); i < n; i++ {
		for {
			ok, err := r.Read(out)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if ok {
				break
			}
		}
		if got := readU64(out); got != i {
			t.Fatalf("read %d, want %d (gap or duplicate)", got, i)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("producer: %v", err)
	}
}
