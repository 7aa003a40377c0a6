package spooledtempfile

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestInMemoryBasic writes data below threshold and verifies it remains in memory.
func TestInMemoryBasic(t *testing.T) {
	spool := New("test", os.TempDir(), 100)
	defer spool.Close()

	input := []byte("hello, world")
	n, err := spool.Write(input)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(input) {
		t.Errorf("Write count mismatch: got %d, want %d", n, len(input))
	}

	if spool.Len() != int64(len(input)) {
		t.Errorf("Len() mismatch: got %d, want %d", spool.Len(), len(input))
	}

	out := make([]byte, 5)
	n, err = spool.Read(out)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if n != 5 || string(out) != "hello" {
		t.Errorf(`Read mismatch: got %d %q, want 5 "hello"`, n, out)
	}

	// FileName should be empty because we never switched to file
	if spool.FileName() != "" {
		t.Errorf("FileName was not empty, got %q", spool.FileName())
	}
}

// TestThresholdCrossing writes enough data to switch from in-memory to disk.
func TestThresholdCrossing(t *testing.T) {
	spool := New("test", t.TempDir(), 10)
	defer spool.Close()

	data1 := []byte("12345")
	data2 := []byte("67890ABCD") // total length > 10

	if _, err := spool.Write(data1); err != nil {
		t.Fatalf("First Write error: %v", err)
	}
	if spool.FileName() != "" {
		t.Errorf("Expected to still be in memory, but file exists: %s", spool.FileName())
	}

	if _, err := spool.Write(data2); err != nil {
		t.Fatalf("Second Write error: %v", err)
	}

	fn := spool.FileName()
	if fn == "" {
		t.Fatal("Expected a file name once threshold is crossed, got empty string")
	}
	base := filepath.Base(fn)
	if !strings.HasPrefix(base, "test") {
		t.Errorf("Expected file name prefix 'test', got %s", base)
	}

	total := int64(len(data1) + len(data2))
	if spool.Len() != total {
		t.Errorf("Len() mismatch: got %d, want %d", spool.Len(), total)
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, spool); err != nil {
		t.Fatalf("Copy error: %v", err)
	}
	expected := string(data1) + string(data2)
	if buf.String() != expected {
		t.Errorf("Data mismatch after read. Got %q, want %q", buf.String(), expected)
	}
}

// TestReadAtAndSeek tests seeking and ReadAt in both spool states.
func TestReadAtAndSeek(t *testing.T) {
	for name, threshold := range map[string]int{"memory": 100, "disk": 5} {
		t.Run(name, func(t *testing.T) {
			spool := New("test", t.TempDir(), threshold)
			defer spool.Close()

			data := []byte("HelloWorld123")
			if _, err := spool.Write(data); err != nil {
				t.Fatalf("Write error: %v", err)
			}

			p := make([]byte, 5)
			if _, err := spool.ReadAt(p, 5); err != nil {
				t.Fatalf("ReadAt error: %v", err)
			}
			if string(p) != "World" {
				t.Errorf(`ReadAt mismatch: got %q, want "World"`, p)
			}

			if _, err := spool.Seek(0, io.SeekStart); err != nil {
				t.Fatalf("Seek error: %v", err)
			}
			all, err := io.ReadAll(spool)
			if err != nil {
				t.Fatalf("ReadAll error: %v", err)
			}
			if !bytes.Equal(data, all) {
				t.Errorf("Data mismatch. Got %q, want %q", all, data)
			}
		})
	}
}

// TestWriteAfterRead ensures the write-then-read transition is one-way.
func TestWriteAfterRead(t *testing.T) {
	spool := New("test", "", 100)
	defer spool.Close()

	if _, err := spool.Write([]byte("ABCDEFG")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := spool.Read(buf); err != nil && err != io.EOF {
		t.Fatalf("Read error: %v", err)
	}

	_, err := spool.Write([]byte("XYZ"))
	if err == nil || !strings.Contains(err.Error(), "write after read") {
		t.Errorf("Expected write-after-read error, got %v", err)
	}
}

// TestCloseRemovesSpillFile checks the spill file is deleted on Close and
// that Close is idempotent.
func TestCloseRemovesSpillFile(t *testing.T) {
	spool := New("test", t.TempDir(), 10)

	if _, err := spool.Write([]byte("1234567890ABC")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	fn := spool.FileName()
	if fn == "" {
		t.Fatal("Expected on-disk file, got empty name")
	}
	if _, statErr := os.Stat(fn); statErr != nil {
		t.Fatalf("Expected file to exist, got error: %v", statErr)
	}

	if err := spool.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, statErr := os.Stat(fn); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("Expected file to be removed on Close, stat returned: %v", statErr)
	}
	if err := spool.Close(); err != nil {
		t.Errorf("Second Close error: %v", err)
	}

	if _, err := spool.Read(make([]byte, 10)); err == nil {
		t.Error("Expected error on read after close")
	}
	if _, err := spool.Write([]byte("stuff")); err == nil {
		t.Error("Expected error on write after close")
	}
}
