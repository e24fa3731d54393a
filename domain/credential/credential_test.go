package credential_test

import (
	"strings"
	"testing"
	"time"

	"github.com/apimarket/metergate/domain/credential"
)

var baseTime = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func TestGenerate(t *testing.T) {
	rawKey, c, err := credential.Generate("mk_", baseTime)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if !strings.HasPrefix(rawKey, "mk_") {
		t.Errorf("raw key %q missing marker", rawKey)
	}
	if len(rawKey) != 3+64 {
		t.Errorf("raw key length = %d, want 67", len(rawKey))
	}
	if c.Prefix != rawKey[:credential.LookupLen] {
		t.Errorf("prefix = %q, want first %d chars of raw key", c.Prefix, credential.LookupLen)
	}
	if strings.Contains(string(c.Hash), rawKey[credential.LookupLen:]) {
		t.Error("hash contains key material in clear")
	}
	if !c.Match(rawKey) {
		t.Error("credential does not match its own raw key")
	}
	if c.Match(rawKey[:len(rawKey)-1] + "0") {
		t.Error("credential matched a different key")
	}
}

func TestGenerate_DefaultMarker(t *testing.T) {
	rawKey, _, err := credential.Generate("", baseTime)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(rawKey, credential.DefaultPrefix) {
		t.Errorf("raw key %q missing default marker", rawKey)
	}
}

func TestGenerate_Unique(t *testing.T) {
	k1, _, _ := credential.Generate("mk_", baseTime)
	k2, _, _ := credential.Generate("mk_", baseTime)
	if k1 == k2 {
		t.Error("two generated keys are identical")
	}
}

func TestLookupPrefix(t *testing.T) {
	valid := "mk_" + strings.Repeat("ab", 32)

	cases := []struct {
		name   string
		key    string
		wantOK bool
	}{
		{"valid", valid, true},
		{"empty", "", false},
		{"wrong marker", "sk_" + strings.Repeat("ab", 32), false},
		{"too short", "mk_abcd", false},
		{"marker only", "mk_", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prefix, ok := credential.LookupPrefix(tc.key, "mk_")
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && prefix != tc.key[:credential.LookupLen] {
				t.Errorf("prefix = %q", prefix)
			}
		})
	}
}

func TestActive(t *testing.T) {
	_, c, err := credential.Generate("mk_", baseTime)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if !c.Active(baseTime.Add(time.Hour)) {
		t.Error("unrevoked credential reported inactive")
	}

	revokedAt := baseTime.Add(time.Hour)
	c.RevokedAt = &revokedAt
	if !c.Active(baseTime.Add(30 * time.Minute)) {
		t.Error("credential inactive before its revocation time")
	}
	if c.Active(revokedAt) {
		t.Error("credential active at its revocation time")
	}
	if c.Active(revokedAt.Add(time.Second)) {
		t.Error("credential active after revocation")
	}
}
