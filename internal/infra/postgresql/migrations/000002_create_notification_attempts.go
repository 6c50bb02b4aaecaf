package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-service/internal/repository"
	"gorm.io/gorm"
)

func createNotificationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notification_attempts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.NotificationAttemptModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationAttemptModel{})
		},
	}
}
