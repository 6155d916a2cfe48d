package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jobtrail/core/internal/database"
	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

var testEncryptionKey = []byte("test-encryption-key-32-bytes!!!!")

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

func createTestAccount(t *testing.T, service *AccountService, email string) *models.Account {
	t.Helper()

	account, err := service.CreateAccount(CreateAccountInput{
		Email:      email,
		IMAPHost:   "imap.test.example.com",
		IMAPPort:   993,
		Username:   email,
		Credential: "test-password",
		UseSSL:     true,
		SyncDays:   30,
	})
	if err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}
	return account
}

func testRawEmail(accountID uint, messageID, subject, from, body string) *RawEmail {
	return &RawEmail{
		AccountID:  accountID,
		MessageID:  messageID,
		Subject:    subject,
		From:       from,
		Body:       body,
		ReceivedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}
