package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "s3cret" || hash == "" {
		t.Fatalf("hash must not echo the password")
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected matching password to verify")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected mismatched password to fail")
	}
}

func TestCheckPasswordRejectsGarbageHash(t *testing.T) {
	if CheckPassword("anything", "not-a-bcrypt-hash") {
		t.Fatalf("garbage stored hash must never verify")
	}
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	h1, err := HashPassword("same")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashPassword("same")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("two hashes of the same password must differ by salt")
	}
}
