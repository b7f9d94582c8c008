package cache

import (
	"errors"
	"testing"

	"github.com/jonwraymond/memocache/codec"
)

func TestFingerprint_Pure(t *testing.T) {
	f := NewFingerprinter()
	bindings := func() map[string]any {
		return map[string]any{
			"x":     1,
			"names": []string{"a", "b"},
			"opts":  map[string]any{"depth": 3, "verbose": true},
			"rate":  0.25,
		}
	}

	first, err := f.Fingerprint("y = x + 1", FormatVersion, bindings())
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := f.Fingerprint("y = x + 1", FormatVersion, bindings())
		if err != nil {
			t.Fatalf("Fingerprint() error = %v", err)
		}
		if again != first {
			t.Fatalf("iteration %d produced a different key", i)
		}
	}
}

func TestFingerprint_Sensitivity(t *testing.T) {
	f := NewFingerprinter()
	base := func() map[string]any { return map[string]any{"x": 1, "y": "a"} }
	ref, err := f.Fingerprint("z = x", FormatVersion, base())
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}

	tests := []struct {
		name     string
		code     string
		version  int
		bindings map[string]any
	}{
		{"input value", "z = x", FormatVersion, map[string]any{"x": 2, "y": "a"}},
		{"input type", "z = x", FormatVersion, map[string]any{"x": int64(1), "y": "a"}},
		{"input name", "z = x", FormatVersion, map[string]any{"w": 1, "y": "a"}},
		{"extra input", "z = x", FormatVersion, map[string]any{"x": 1, "y": "a", "q": nil}},
		{"missing input", "z = x", FormatVersion, map[string]any{"x": 1}},
		{"code char", "z = y", FormatVersion, base()},
		{"code whitespace", "z =  x", FormatVersion, base()},
		{"version", "z = x", FormatVersion + 1, base()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Fingerprint(tt.code, tt.version, tt.bindings)
			if err != nil {
				t.Fatalf("Fingerprint() error = %v", err)
			}
			if got == ref {
				t.Error("key should differ from reference")
			}
		})
	}
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	f := NewFingerprinter()
	a, _ := f.Fingerprint("", FormatVersion, map[string]any{"ab": "c"})
	b, _ := f.Fingerprint("", FormatVersion, map[string]any{"a": "bc"})
	if a == b {
		t.Error("shifting bytes between name and value should change the key")
	}

	c, _ := f.Fingerprint("", FormatVersion, map[string]any{"a": "", "b": ""})
	d, _ := f.Fingerprint("", FormatVersion, map[string]any{"ab": ""})
	if c == d {
		t.Error("merging names should change the key")
	}
}

func TestFingerprint_LineEndings(t *testing.T) {
	f := NewFingerprinter()
	lf, _ := f.Fingerprint("a = 1\nb = 2\n", FormatVersion, nil)
	crlf, _ := f.Fingerprint("a = 1\r\nb = 2\r\n\r\n", FormatVersion, nil)
	cr, _ := f.Fingerprint("a = 1\rb = 2", FormatVersion, nil)
	if lf != crlf || lf != cr {
		t.Error("line endings and trailing newlines should not affect the key")
	}
}

func TestFingerprint_EmptyBindings(t *testing.T) {
	f := NewFingerprinter()
	a, err := f.Fingerprint("print(1)", FormatVersion, nil)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, _ := f.Fingerprint("print(1)", FormatVersion, map[string]any{})
	if a != b {
		t.Error("nil and empty bindings should produce the same key")
	}
}

func TestFingerprint_Unsupported(t *testing.T) {
	f := NewFingerprinter()
	_, err := f.Fingerprint("use(conn)", FormatVersion, map[string]any{
		"ok":   1,
		"conn": make(chan int),
	})

	var uerr *UnsupportedValueError
	if !errors.As(err, &uerr) {
		t.Fatalf("Fingerprint() error = %v, want *UnsupportedValueError", err)
	}
	if uerr.Name != "conn" {
		t.Errorf("Name = %q, want conn", uerr.Name)
	}
}

func TestFingerprint_Frame(t *testing.T) {
	f := NewFingerprinter()
	df := func(p float64) codec.Frame {
		return codec.Frame{Columns: []codec.Column{codec.Float64Column("price", 1, p)}}
	}
	a, err := f.Fingerprint("summary(df)", FormatVersion, map[string]any{"df": df(2)})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, _ := f.Fingerprint("summary(df)", FormatVersion, map[string]any{"df": df(2)})
	c, _ := f.Fingerprint("summary(df)", FormatVersion, map[string]any{"df": df(3)})
	if a != b {
		t.Error("equal frames should produce the same key")
	}
	if a == c {
		t.Error("different frames should produce different keys")
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a\r\nb", "a\nb"},
		{"a\rb", "a\nb"},
		{"a\n\n\n", "a"},
		{"  a  \n", "  a  "},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCode(tt.in); got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
