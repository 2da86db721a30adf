package access

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/wirehome/internal/automation"
	"github.com/nerrad567/wirehome/internal/infrastructure/database"
	"github.com/nerrad567/wirehome/migrations"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "access.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewStore(db.DB)
}

func TestHashSecret_RoundTrip(t *testing.T) {
	hash, err := HashSecret("4711")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$") {
		t.Errorf("hash = %q, want argon2id PHC string", hash)
	}

	ok, err := VerifySecret("4711", hash)
	if err != nil || !ok {
		t.Errorf("VerifySecret(correct) = %v, %v; want true, nil", ok, err)
	}
	ok, err = VerifySecret("4712", hash)
	if err != nil || ok {
		t.Errorf("VerifySecret(wrong) = %v, %v; want false, nil", ok, err)
	}

	again, _ := HashSecret("4711") //nolint:errcheck // checked above
	if again == hash {
		t.Error("two hashes of the same secret are identical; salt not random")
	}
}

func TestVerifySecret_InvalidHash(t *testing.T) {
	tests := []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!$aGFzaA",
	}
	for _, encoded := range tests {
		if _, err := VerifySecret("x", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("VerifySecret(%q) error = %v, want ErrInvalidHash", encoded, err)
		}
	}
}

func TestStore_AddVerify(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	tag, err := s.Add(ctx, KindRFID, "kitchen keyfob", "0004829511")
	if err != nil {
		t.Fatalf("Add(rfid) error = %v", err)
	}
	if _, err := s.Add(ctx, KindPIN, "keypad", " 1234 "); err != nil {
		t.Fatalf("Add(pin) error = %v", err)
	}

	tests := []struct {
		credential string
		want       bool
	}{
		{"0004829511", true},
		{"1234", true},
		{"0000000000", false},
		{"", false},
	}
	for _, tt := range tests {
		ok, err := s.Verify(ctx, tt.credential)
		if err != nil {
			t.Fatalf("Verify(%q) error = %v", tt.credential, err)
		}
		if ok != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.credential, ok, tt.want)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Label != "keypad" {
		t.Fatalf("List() = %+v, want keypad then kitchen keyfob", list)
	}
	if list[1].ID != tag.ID || list[1].LastUsedAt == nil || !list[1].LastUsedAt.Equal(fixed) {
		t.Errorf("keyfob LastUsedAt = %v, want %v", list[1].LastUsedAt, fixed)
	}
}

func TestStore_DisableAndRemove(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	c, err := s.Add(ctx, KindPIN, "cleaner", "9999")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetEnabled(ctx, c.ID, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if ok, _ := s.Verify(ctx, "9999"); ok { //nolint:errcheck // result checked
		t.Error("disabled credential still verifies")
	}

	if err := s.Remove(ctx, c.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
	if err := s.SetEnabled(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEnabled(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_AddValidation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "fingerprint", "x", "1"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Add(bad kind) error = %v, want ErrInvalidKind", err)
	}
	if _, err := s.Add(ctx, KindPIN, "x", "   "); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("Add(blank) error = %v, want ErrEmptySecret", err)
	}
}

type failingChecker struct{ err error }

func (f failingChecker) Verify(context.Context, string) (bool, error) { return false, f.err }

func TestAnyOf(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	checker := AnyOf(failingChecker{boom}, automation.StaticCredentials{"1234"}, nil)

	ok, err := checker.Verify(ctx, "1234")
	if !ok || err != nil {
		t.Errorf("Verify(static) = %v, %v; want true, nil", ok, err)
	}

	ok, err = checker.Verify(ctx, "0000")
	if ok || !errors.Is(err, boom) {
		t.Errorf("Verify(unknown) = %v, %v; want false, db down", ok, err)
	}

	// The combined checker satisfies the engine interface.
	var _ automation.CredentialChecker = checker
}
