package md5crypt

import (
	"strings"
	"testing"
)

func TestCryptDeterministic(t *testing.T) {
	a := Crypt("hunter2", "abcdefgh")
	b := Crypt("hunter2", "abcdefgh")
	if a != b {
		t.Fatalf("Crypt must be deterministic for the same password and salt: %q != %q", a, b)
	}
}

func TestCryptFormat(t *testing.T) {
	h := Crypt("hunter2", "abcdefgh")
	if !strings.HasPrefix(h, Magic) {
		t.Fatalf("expected %q prefix, got %q", Magic, h)
	}
	parts := strings.Split(h, "$")
	if len(parts) != 4 {
		t.Fatalf("expected 4 $-separated fields, got %d: %q", len(parts), h)
	}
	if parts[2] != "abcdefgh" {
		t.Fatalf("expected salt field %q, got %q", "abcdefgh", parts[2])
	}
	if len(parts[3]) != 22 {
		t.Fatalf("expected a 22-character hash field, got %d: %q", len(parts[3]), parts[3])
	}
}

func TestCryptSaltTruncatedAtEightChars(t *testing.T) {
	a := Crypt("hunter2", "abcdefghIGNORED")
	b := Crypt("hunter2", "abcdefgh")
	if a != b {
		t.Fatalf("salt beyond 8 characters must be ignored: %q != %q", a, b)
	}
}

func TestCryptDistinguishesInputs(t *testing.T) {
	if Crypt("hunter2", "saltsalt") == Crypt("hunter3", "saltsalt") {
		t.Fatalf("different passwords with the same salt must hash differently")
	}
	if Crypt("hunter2", "saltsalt") == Crypt("hunter2", "saltsalz") {
		t.Fatalf("different salts with the same password must hash differently")
	}
}

func TestExtractSalt(t *testing.T) {
	tests := []struct {
		stored string
		want   string
	}{
		{"$1$abcdefgh$rest", "abcdefgh"},
		{"$1$short$rest", "short"},
		{"$1$toolongsalt$rest", "toolongs"},
		{"notmd5crypt", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := ExtractSalt(tc.stored); got != tc.want {
			t.Errorf("ExtractSalt(%q) = %q, want %q", tc.stored, got, tc.want)
		}
	}
}

func TestExtractSaltRoundTrip(t *testing.T) {
	h := Crypt("hunter2", "mysalt99")
	salt := ExtractSalt(h)
	if Crypt("hunter2", salt) != h {
		t.Fatalf("recomputing with the extracted salt must reproduce the stored hash")
	}
}

func TestTraditionalUnsupported(t *testing.T) {
	if _, err := Traditional("hunter2", "xx"); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
