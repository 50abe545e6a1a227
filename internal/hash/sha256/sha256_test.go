package sha256

import "testing"

func TestFingerprintIsStable(t *testing.T) {
	t.Parallel()

	a := Fingerprint("dfi", "Badger Brew LLC", "2024-03-01")
	b := Fingerprint("dfi", "Badger Brew LLC", "2024-03-01")
	if a != b {
		t.Fatalf("same key fingerprinted differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintSeparatesParts(t *testing.T) {
	t.Parallel()

	// "ab"+"c" must not collide with "a"+"bc".
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatal("part boundaries must affect the digest")
	}
}
