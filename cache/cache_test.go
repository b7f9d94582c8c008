package cache

import (
	"errors"
	"strings"
	"testing"

	"github.com/jonwraymond/memocache/resilience"
)

func TestKey_StringRoundTrip(t *testing.T) {
	key, err := NewFingerprinter().Fingerprint("x = 1", FormatVersion, nil)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}

	s := key.String()
	if len(s) != 64 {
		t.Fatalf("String() length = %d, want 64", len(s))
	}
	if strings.ToLower(s) != s {
		t.Errorf("String() = %q, want lowercase hex", s)
	}

	parsed, err := ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if parsed != key {
		t.Error("ParseKey(String()) != key")
	}
}

func TestParseKey_Invalid(t *testing.T) {
	valid := strings.Repeat("ab", 32)
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", valid[:62]},
		{"long", valid + "00"},
		{"uppercase", strings.ToUpper(valid)},
		{"not hex", strings.Repeat("zz", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKey(tt.in); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ParseKey(%q) error = %v, want ErrInvalidKey", tt.in, err)
			}
		})
	}
}

func TestParseRecordName(t *testing.T) {
	var key Key
	key[0] = 0xfe

	got, ok := ParseRecordName(key.RecordName())
	if !ok || got != key {
		t.Errorf("ParseRecordName(%q) = %v, %v", key.RecordName(), got, ok)
	}

	for _, name := range []string{key.String(), ".tmp-123", "notes.txt", "xyz" + RecordExt} {
		if _, ok := ParseRecordName(name); ok {
			t.Errorf("ParseRecordName(%q) should not match", name)
		}
	}
}

func TestKey_IsZero(t *testing.T) {
	var k Key
	if !k.IsZero() {
		t.Error("zero key should report IsZero")
	}
	k[31] = 1
	if k.IsZero() {
		t.Error("non-zero key should not report IsZero")
	}
}

func TestEntry_Size(t *testing.T) {
	e := &Entry{Values: map[string][]byte{"ab": {1, 2, 3}, "c": nil}}
	if got := e.Size(); got != 6 {
		t.Errorf("Size() = %d, want 6", got)
	}
}

func TestErrors(t *testing.T) {
	cause := errors.New("disk full")

	serr := &StorageUnavailableError{Op: "write", Err: cause}
	if !errors.Is(serr, cause) {
		t.Error("StorageUnavailableError should unwrap to its cause")
	}
	if !strings.Contains(serr.Error(), "write") {
		t.Errorf("Error() = %q, should name the operation", serr.Error())
	}

	guarded := unavailable("read", &resilience.GuardError{Op: "read", Stage: resilience.StageBulkhead, Err: resilience.ErrBulkheadFull})
	if guarded.Stage != resilience.StageBulkhead || !errors.Is(guarded, resilience.ErrBulkheadFull) {
		t.Errorf("unavailable() = %+v, want bulkhead stage", guarded)
	}
	if !strings.Contains(guarded.Error(), "read (bulkhead)") {
		t.Errorf("Error() = %q, should name the operation and guard stage", guarded.Error())
	}
	if unavailable("read", cause).Stage != "" {
		t.Error("backend failures should carry no guard stage")
	}

	cerr := &CorruptEntryError{Err: errChecksum}
	if !errors.Is(cerr, errChecksum) {
		t.Error("CorruptEntryError should unwrap to its cause")
	}

	ierr := &IncompleteCaptureError{Missing: []string{"a", "b"}}
	if !strings.Contains(ierr.Error(), "a, b") {
		t.Errorf("Error() = %q, should list missing outputs", ierr.Error())
	}
}
