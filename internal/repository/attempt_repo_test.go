package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-service/internal/domain"
	"github.com/kursadbilgin/notification-service/internal/repository"
)

func TestGormAttemptRepo_CreateAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	notifications := repository.NewGormNotificationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	n := newNotification("T1", "WELCOME", time.Now().UTC())
	if err := notifications.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	failure := "Network timeout"
	code := 202
	for _, a := range []*domain.NotificationAttempt{
		{NotificationID: n.ID, AttemptNumber: 2, Delivered: true, StatusCode: &code},
		{NotificationID: n.ID, AttemptNumber: 1, Error: &failure, DurationMillis: 5000},
	} {
		if err := attempts.Create(ctx, a); err != nil {
			t.Fatalf("Create(attempt) error = %v", err)
		}
		if a.ID == "" {
			t.Fatal("Create(attempt) did not assign an id")
		}
	}

	list, err := attempts.GetByNotificationID(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetByNotificationID() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("attempts = %d, want 2", len(list))
	}
	if list[0].AttemptNumber != 1 || list[0].Error == nil || *list[0].Error != failure {
		t.Fatalf("first attempt = %+v", list[0])
	}
	if list[1].AttemptNumber != 2 || !list[1].Delivered || list[1].StatusCode == nil || *list[1].StatusCode != code {
		t.Fatalf("second attempt = %+v", list[1])
	}
}
