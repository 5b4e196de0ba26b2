package logging

import (
	"sort"
	"strings"
	"testing"
)

func TestMaskFieldRedactsUnlistedKeys(t *testing.T) {
	attr := MaskField("headers", "authorization=Bearer abc")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("expected headers to be redacted, got %q", attr.Value.String())
	}
	attr = MaskField("Token", "0x00000000000000000000000000000000000000f1")
	if attr.Value.String() == RedactedValue {
		t.Fatalf("expected allowlisted key to pass through")
	}
	attr = MaskField("headers", "  ")
	if attr.Value.String() != "  " {
		t.Fatalf("expected empty value to be left alone, got %q", attr.Value.String())
	}
}

func TestMaskDSNHidesPasswordOnly(t *testing.T) {
	attr := MaskDSN("archive_dsn", "postgres://keeper:secret@db:5432/defi?sslmode=disable")
	got := attr.Value.String()
	if strings.Contains(got, "secret") {
		t.Fatalf("password leaked: %q", got)
	}
	if !strings.Contains(got, "keeper") || !strings.Contains(got, "db:5432/defi") {
		t.Fatalf("expected user and host kept, got %q", got)
	}
	for _, dsn := range []string{"", "./defi-data/prices.db", "postgres://db/defi"} {
		if got := MaskDSN("archive_dsn", dsn).Value.String(); got != dsn {
			t.Fatalf("expected %q unchanged, got %q", dsn, got)
		}
	}
}

func TestRedactionAllowlistIsSorted(t *testing.T) {
	keys := RedactionAllowlist()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("allowlist not sorted: %v", keys)
	}
	for _, key := range keys {
		if !IsAllowlisted(key) {
			t.Fatalf("key %q listed but not allowlisted", key)
		}
	}
	if IsAllowlisted("password") {
		t.Fatalf("password must not be allowlisted")
	}
}
