package webhook

import "testing"

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event":"task.created"}`)
	sig := Sign(payload, "s3cret")

	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !Verify(payload, sig, "s3cret") {
		t.Fatal("signature should verify with correct secret")
	}
	if Verify(payload, sig, "wrong") {
		t.Fatal("signature should not verify with wrong secret")
	}
	if Verify([]byte(`{"event":"task.deleted"}`), sig, "s3cret") {
		t.Fatal("signature should not verify for different payload")
	}
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte("abc")
	if Sign(payload, "k") != Sign(payload, "k") {
		t.Fatal("same payload and secret must produce same signature")
	}
	if Sign(payload, "k1") == Sign(payload, "k2") {
		t.Fatal("different secrets must produce different signatures")
	}
}
