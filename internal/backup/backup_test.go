package backup

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ewhitmore/vigil/internal/database"
	"github.com/ewhitmore/vigil/internal/store"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte("slot data worth keeping")

	sealed, err := Encrypt(plain, "correct horse")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("ciphertext contains plaintext")
	}

	got, err := Decrypt(sealed, "correct horse")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip = %q, want %q", got, plain)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, err := Encrypt([]byte("secret"), "right")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(sealed, "wrong"); err == nil {
		t.Fatal("decrypt with wrong passphrase must fail")
	}
}

func TestDecryptTruncatedBlob(t *testing.T) {
	if _, err := Decrypt([]byte("short"), "any"); err == nil {
		t.Fatal("truncated blob must fail")
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	puts    map[string][]byte
	deletes []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{puts: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func testManager(t *testing.T) (*Manager, *fakeS3, *store.BackupStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vigil.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	backups := store.NewBackupStore(db)
	m := NewManager(Config{
		S3:            S3Config{Bucket: "test-bucket", AccessKey: "ak", SecretKey: "sk"},
		DBPath:        dbPath,
		Passphrase:    "pass",
		RetentionDays: 30,
	}, db, backups, slog.New(slog.DiscardHandler))

	fake := newFakeS3()
	m.client = fake
	return m, fake, backups
}

func TestRunOnceUploadsEncryptedSnapshot(t *testing.T) {
	m, fake, _ := testManager(t)
	m.now = func() time.Time { return time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC) }

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	wantKey := "backups/vigil-2026-08-28T030000Z.db.enc"
	sealed, ok := fake.puts[wantKey]
	if !ok {
		t.Fatalf("uploaded keys = %v, want %q", fake.puts, wantKey)
	}

	plain, err := Decrypt(sealed, "pass")
	if err != nil {
		t.Fatalf("uploaded blob must decrypt: %v", err)
	}
	// A SQLite file starts with its magic header.
	if !bytes.HasPrefix(plain, []byte("SQLite format 3")) {
		t.Error("decrypted snapshot is not a SQLite database")
	}
}

func TestRunOnceRecordsSize(t *testing.T) {
	m, fake, backups := testManager(t)
	m.now = func() time.Time { return time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC) }

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	old, err := backups.ListOlderThan(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(old) != 1 {
		t.Fatalf("records = %d, want 1", len(old))
	}
	wantSize := int64(len(fake.puts[old[0].S3Key]))
	if old[0].SizeBytes != wantSize {
		t.Errorf("size = %d, want %d", old[0].SizeBytes, wantSize)
	}
}

func TestPruneOldDeletesRemoteThenRecord(t *testing.T) {
	m, fake, backups := testManager(t)

	if _, err := backups.Create("old.db.enc", "backups/old.db.enc"); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	// Retention cutoff far in the future makes the record "old".
	m.now = func() time.Time { return time.Now().AddDate(0, 0, 60) }

	if err := m.pruneOld(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(fake.deletes) != 1 || fake.deletes[0] != "backups/old.db.enc" {
		t.Errorf("deletes = %v", fake.deletes)
	}
	remaining, _ := backups.ListOlderThan(time.Now().AddDate(1, 0, 0))
	if len(remaining) != 0 {
		t.Errorf("remaining records = %d, want 0", len(remaining))
	}
}

func TestManagerDisabledWithoutCredentials(t *testing.T) {
	m := NewManager(Config{}, nil, nil, slog.New(slog.DiscardHandler))
	if m.Enabled() {
		t.Fatal("manager without credentials must be disabled")
	}
	if err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("run once on disabled manager must error")
	}
	// Start on a disabled manager is a no-op; Stop must not hang.
	m.Start(context.Background())
	m.Stop()
}
