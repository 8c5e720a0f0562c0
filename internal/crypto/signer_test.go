package crypto

import "testing"

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewSigner("test-secret")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	token := s.Sign("42:cs_test_abc")
	if !s.Verify("42:cs_test_abc", token) {
		t.Error("Verify() = false for a freshly signed message")
	}
	if s.Verify("43:cs_test_abc", token) {
		t.Error("Verify() = true for a different message")
	}
	if s.Verify("42:cs_test_abc", token+"00") {
		t.Error("Verify() = true for a tampered token")
	}
	if s.Verify("42:cs_test_abc", "not-hex!") {
		t.Error("Verify() = true for malformed token")
	}
}

func TestSignerDifferentSecrets(t *testing.T) {
	a, _ := NewSigner("secret-a")
	b, _ := NewSigner("secret-b")

	token := a.Sign("42:cs_test_abc")
	if b.Verify("42:cs_test_abc", token) {
		t.Error("Verify() = true across different secrets")
	}
}

func TestNewSignerEmptySecret(t *testing.T) {
	if _, err := NewSigner(""); err == nil {
		t.Error("NewSigner(\"\") expected error, got nil")
	}
}
