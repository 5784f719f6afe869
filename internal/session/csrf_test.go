package session

import (
	"testing"
	"time"
)

func TestCsrfFormatAndParse(t *testing.T) {
	id, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}

	tok, err := GenerateToken(time.Now(), id)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	s := tok.Format()
	if len(s) != 32 {
		t.Fatalf("expected 32 hex chars, got %d: %q", len(s), s)
	}

	parsed, err := ParseToken(s)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if !parsed.Equal(tok) {
		t.Fatalf("parse(format(t)) != t")
	}
}

func TestCsrfSameMinuteSameSaltEqual(t *testing.T) {
	id, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}

	base := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	sameMinute := base.Add(20 * time.Second)

	a, err := GenerateToken(base, id)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken(sameMinute, id)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("tokens generated within the same minute from the same salt must be equal")
	}
}

func TestCsrfDifferentMinuteOrSaltUnequal(t *testing.T) {
	idA, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}
	idB, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	a, err := GenerateToken(base, idA)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	bDifferentSalt, err := GenerateToken(base, idB)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if a.Equal(bDifferentSalt) {
		t.Fatalf("different salts must not collide")
	}

	cDifferentMinute, err := GenerateToken(base.Add(time.Minute), idA)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if a.Equal(cDifferentMinute) {
		t.Fatalf("different minutes must not collide")
	}
}

func TestVerify(t *testing.T) {
	id, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}
	other, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}

	tok, err := GenerateToken(time.Now(), id)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	ok, err := Verify(tok, id)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("token should verify against its own salt")
	}

	ok, err = Verify(tok, other)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("token should not verify against a different salt")
	}
}

func TestParseTokenRejectsWrongLength(t *testing.T) {
	if _, err := ParseToken("deadbeef"); err == nil {
		t.Fatalf("expected error for short token string")
	}
}
