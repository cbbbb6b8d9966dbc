package notify

import "testing"

func TestSignAndVerifyHMAC(t *testing.T) {
	body := []byte(`{"id":"evt1","type":"optimization.applied"}`)
	sig := SignHMAC("topsecret", body)
	if sig == "" {
		t.Fatal("empty signature")
	}
	if !VerifyHMAC("topsecret", body, sig) {
		t.Fatal("signature should verify")
	}
	if VerifyHMAC("wrong", body, sig) {
		t.Fatal("wrong secret should not verify")
	}
	if VerifyHMAC("topsecret", []byte(`tampered`), sig) {
		t.Fatal("tampered body should not verify")
	}
	if VerifyHMAC("topsecret", body, "not-hex") {
		t.Fatal("non-hex signature should not verify")
	}
}
