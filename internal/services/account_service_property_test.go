package services

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCreateAccount_Validation(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)

	_, err := service.CreateAccount(CreateAccountInput{
		Email:    "user@example.com",
		IMAPHost: "imap.example.com",
		// no username, no credential
	})
	if !errors.Is(err, ErrInvalidAccountData) {
		t.Errorf("error = %v, want ErrInvalidAccountData", err)
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)

	createTestAccount(t, service, "user@example.com")

	_, err := service.CreateAccount(CreateAccountInput{
		Email:      "user@example.com",
		IMAPHost:   "imap.example.com",
		IMAPPort:   993,
		Username:   "user@example.com",
		Credential: "secret",
	})
	if !errors.Is(err, ErrAccountAlreadyExists) {
		t.Errorf("error = %v, want ErrAccountAlreadyExists", err)
	}
}

func TestCreateAccount_DefaultsApplied(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)

	account := createTestAccount(t, service, "user@example.com")
	if !account.SyncEnabled {
		t.Error("new account should be sync-enabled")
	}
	if account.SyncDays <= 0 {
		t.Errorf("SyncDays = %d, want a positive default", account.SyncDays)
	}
	if account.CredentialEncrypted == "" {
		t.Error("credential not encrypted")
	}
}

// Property: for any credential string, encrypting on store and decrypting on
// use returns the original, and the stored form never contains the
// plaintext.
func TestProperty_CredentialRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)

	properties.Property("encrypt_then_decrypt_is_identity", prop.ForAll(
		func(credential string) bool {
			encrypted, err := service.encryptCredential(credential)
			if err != nil {
				return false
			}
			decrypted, err := service.decryptCredential(encrypted)
			if err != nil {
				return false
			}
			return decrypted == credential
		},
		gen.AnyString(),
	))

	properties.Property("two_encryptions_of_same_credential_differ", prop.ForAll(
		func(credential string) bool {
			// GCM with a random nonce never repeats ciphertexts
			first, err := service.encryptCredential(credential)
			if err != nil {
				return false
			}
			second, err := service.encryptCredential(credential)
			if err != nil {
				return false
			}
			return first != second
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestGetDecryptedCredential(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)

	account := createTestAccount(t, service, "user@example.com")

	credential, err := service.GetDecryptedCredential(account)
	if err != nil {
		t.Fatalf("GetDecryptedCredential failed: %v", err)
	}
	if credential != "test-password" {
		t.Errorf("credential = %q, want the stored plaintext back", credential)
	}
}

func TestDecryptCredential_WrongKey(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)
	other := NewAccountService(db, []byte("a-completely-different-32B-key!!"))

	encrypted, err := service.encryptCredential("secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := other.decryptCredential(encrypted); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("error = %v, want ErrDecryptionFailed", err)
	}
}

// Property: setting the sync flag to the same value repeatedly never changes
// the observable state.
func TestProperty_SyncToggleIdempotency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("set_sync_enabled_same_value_is_idempotent", prop.ForAll(
		func(enabled bool) bool {
			db := setupTestDB(t)
			service := NewAccountService(db, testEncryptionKey)
			account := createTestAccount(t, service, "user@example.com")

			for i := 0; i < 3; i++ {
				updated, err := service.SetSyncEnabled(account.ID, enabled)
				if err != nil {
					return false
				}
				if updated.SyncEnabled != enabled {
					return false
				}
			}

			final, err := service.GetAccountByID(account.ID)
			if err != nil {
				return false
			}
			return final.SyncEnabled == enabled
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestSetSyncEnabled_ExcludesFromSyncSet(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)

	first := createTestAccount(t, service, "first@example.com")
	createTestAccount(t, service, "second@example.com")

	if _, err := service.SetSyncEnabled(first.ID, false); err != nil {
		t.Fatalf("SetSyncEnabled failed: %v", err)
	}

	enabled, err := service.GetSyncEnabledAccounts()
	if err != nil {
		t.Fatalf("GetSyncEnabledAccounts failed: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Email != "second@example.com" {
		t.Errorf("sync set = %v, want only the second account", enabled)
	}
}

func TestAdvanceWatermark_ForwardOnly(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)
	account := createTestAccount(t, service, "user@example.com")

	later := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-48 * time.Hour)

	if err := service.AdvanceWatermark(account.ID, later); err != nil {
		t.Fatalf("AdvanceWatermark failed: %v", err)
	}
	reloaded, _ := service.GetAccountByID(account.ID)
	if !reloaded.LastSyncedAt.Equal(later) {
		t.Fatalf("watermark = %v, want %v", reloaded.LastSyncedAt, later)
	}

	// A re-run over an older window must not move the watermark back
	if err := service.AdvanceWatermark(account.ID, earlier); err != nil {
		t.Fatalf("AdvanceWatermark failed: %v", err)
	}
	reloaded, _ = service.GetAccountByID(account.ID)
	if !reloaded.LastSyncedAt.Equal(later) {
		t.Errorf("watermark moved backwards to %v", reloaded.LastSyncedAt)
	}
}

// Property: the watermark is monotone under any sequence of advances
func TestProperty_WatermarkMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("watermark_never_decreases", prop.ForAll(
		func(offsets []int64) bool {
			db := setupTestDB(t)
			service := NewAccountService(db, testEncryptionKey)
			account := createTestAccount(t, service, "user@example.com")

			var highest time.Time
			for _, offset := range offsets {
				at := base.Add(time.Duration(offset) * time.Minute)
				if err := service.AdvanceWatermark(account.ID, at); err != nil {
					return false
				}
				if at.After(highest) {
					highest = at
				}
				reloaded, err := service.GetAccountByID(account.ID)
				if err != nil {
					return false
				}
				if !reloaded.LastSyncedAt.Equal(highest) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.Int64Range(1, 10000)),
	))

	properties.TestingRun(t)
}

func TestUpdateAccount_CredentialAndSyncDays(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)
	account := createTestAccount(t, service, "user@example.com")
	originalEncrypted := account.CredentialEncrypted

	days := 7
	updated, err := service.UpdateAccount(account.ID, UpdateAccountInput{
		DisplayName: "Renamed",
		Credential:  "new-password",
		UseSSL:      true,
		SyncDays:    &days,
	})
	if err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	if updated.DisplayName != "Renamed" {
		t.Errorf("DisplayName = %q", updated.DisplayName)
	}
	if updated.SyncDays != 7 {
		t.Errorf("SyncDays = %d, want 7", updated.SyncDays)
	}
	if updated.CredentialEncrypted == originalEncrypted {
		t.Error("credential not rotated")
	}
	credential, err := service.GetDecryptedCredential(updated)
	if err != nil || credential != "new-password" {
		t.Errorf("decrypted credential = %q, %v", credential, err)
	}
}

func TestDeleteAccount(t *testing.T) {
	db := setupTestDB(t)
	service := NewAccountService(db, testEncryptionKey)
	account := createTestAccount(t, service, "user@example.com")

	if err := service.DeleteAccount(account.ID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if _, err := service.GetAccountByID(account.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("error = %v, want ErrAccountNotFound", err)
	}
	if err := service.DeleteAccount(account.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("second delete error = %v, want ErrAccountNotFound", err)
	}
}
