package signaling

import "testing"

func TestRequestSignerSignAndVerify(t *testing.T) {
	signer, err := NewRequestSigner([]byte("shared-secret"), []byte("peer-a"))
	if err != nil {
		t.Fatalf("NewRequestSigner failed: %v", err)
	}

	tag := signer.Sign("request-id-1")
	if !signer.Verify("request-id-1", tag) {
		t.Fatal("expected signer to verify its own signature")
	}
	if signer.Verify("request-id-2", tag) {
		t.Fatal("expected verification to fail for a different id")
	}
	if signer.Verify("request-id-1", "not-hex") {
		t.Fatal("expected verification to fail for a malformed tag")
	}
}

func TestRequestSignerDifferentSaltsDeriveDifferentKeys(t *testing.T) {
	a, err := NewRequestSigner([]byte("shared-secret"), []byte("peer-a"))
	if err != nil {
		t.Fatalf("NewRequestSigner failed: %v", err)
	}
	b, err := NewRequestSigner([]byte("shared-secret"), []byte("peer-b"))
	if err != nil {
		t.Fatalf("NewRequestSigner failed: %v", err)
	}

	tag := a.Sign("request-id-1")
	if b.Verify("request-id-1", tag) {
		t.Fatal("expected a signature from one salt to not verify under another")
	}
}
