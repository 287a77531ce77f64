package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vanakhel/server/internal/model"
)

func testRecord() model.SessionRecord {
	return model.SessionRecord{
		UserID:    "u-42",
		Name:      "Asha",
		Email:     "student@example.com",
		Token:     "platform-token",
		CreatedAt: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	}
}

// exerciseRepo runs the save/load/delete contract every backend must honor.
func exerciseRepo(t *testing.T, repo Repo) {
	t.Helper()
	ctx := context.Background()
	rec := testRecord()

	if _, err := repo.GetByUserID(ctx, rec.UserID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty repo: got %v, want ErrNotFound", err)
	}

	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.GetByUserID(ctx, rec.UserID)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if got.Token != rec.Token || got.Name != rec.Name || got.Email != rec.Email {
		t.Errorf("loaded record = %+v, want %+v", got, rec)
	}

	// Save is an upsert: a second login replaces the record.
	rec.Token = "rotated-token"
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save (replace): %v", err)
	}
	got, err = repo.GetByUserID(ctx, rec.UserID)
	if err != nil {
		t.Fatalf("GetByUserID after replace: %v", err)
	}
	if got.Token != "rotated-token" {
		t.Errorf("token after replace = %q", got.Token)
	}

	if err := repo.Delete(ctx, rec.UserID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByUserID(ctx, rec.UserID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
}

func TestMemoryRepo(t *testing.T) {
	exerciseRepo(t, NewMemoryRepo())
}

func TestRedisRepo(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseRepo(t, NewRedisRepo(client, "session", 0))
}

func TestRedisRepo_keyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewRedisRepo(client, "vk", 0)
	if err := repo.Save(context.Background(), testRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("vk:u-42") {
		t.Errorf("expected key vk:u-42, have %v", mr.Keys())
	}
}
