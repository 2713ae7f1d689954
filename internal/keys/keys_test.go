package keys

import (
	"regexp"
	"strings"
	"testing"
)

var keyPattern = regexp.MustCompile(`^plm_(live|test)_[0-9a-f]{48}$`)

func TestGenerateFormat(t *testing.T) {
	for _, env := range []string{"live", "test"} {
		plaintext, hash, err := Generate(env)
		if err != nil {
			t.Fatalf("Generate(%q): %v", env, err)
		}
		if !keyPattern.MatchString(plaintext) {
			t.Errorf("key %q does not match expected format", plaintext)
		}
		if !strings.HasPrefix(plaintext, "plm_"+env+"_") {
			t.Errorf("key %q does not carry env %q", plaintext, env)
		}
		if len(hash) != 64 {
			t.Errorf("hash length: got %d, want 64", len(hash))
		}
	}
}

func TestGenerateCoercesUnknownEnv(t *testing.T) {
	for _, env := range []string{"", "prod", "staging", "LIVE"} {
		plaintext, _, err := Generate(env)
		if err != nil {
			t.Fatalf("Generate(%q): %v", env, err)
		}
		if !strings.HasPrefix(plaintext, "plm_live_") {
			t.Errorf("Generate(%q) = %q, want plm_live_ prefix", env, plaintext)
		}
	}
}

func TestHashRoundTrip(t *testing.T) {
	plaintext, hash, err := Generate("live")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := Hash(plaintext); got != hash {
		t.Errorf("Hash(%q) = %q, want %q", plaintext, got, hash)
	}
}

func TestGenerateUniqueness(t *testing.T) {
	const n = 200
	seenKeys := make(map[string]bool, n)
	seenHashes := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		plaintext, hash, err := Generate("test")
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seenKeys[plaintext] {
			t.Fatalf("duplicate plaintext after %d keys", i)
		}
		if seenHashes[hash] {
			t.Fatalf("duplicate hash after %d keys", i)
		}
		seenKeys[plaintext] = true
		seenHashes[hash] = true
	}
}

func TestDisplayPrefix(t *testing.T) {
	plaintext, _, err := Generate("live")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	prefix := DisplayPrefix(plaintext)
	if prefix != plaintext[:16]+"..." {
		t.Errorf("DisplayPrefix = %q, want first 16 chars + ellipsis", prefix)
	}
	if got := DisplayPrefix("short"); got != "short..." {
		t.Errorf("DisplayPrefix(short) = %q", got)
	}
}

func TestCoerceEnv(t *testing.T) {
	cases := map[string]string{
		"live":    "live",
		"test":    "test",
		"":        "live",
		"staging": "live",
	}
	for in, want := range cases {
		if got := CoerceEnv(in); got != want {
			t.Errorf("CoerceEnv(%q) = %q, want %q", in, got, want)
		}
	}
}
