package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound indicates the mail account was not found
	ErrAccountNotFound = errors.New("mail account not found")
	// ErrAccountAlreadyExists indicates the mail account already exists
	ErrAccountAlreadyExists = errors.New("mail account already exists")
	// ErrInvalidAccountData indicates invalid account data
	ErrInvalidAccountData = errors.New("invalid account data")
	// ErrEncryptionFailed indicates credential encryption failed
	ErrEncryptionFailed = errors.New("credential encryption failed")
	// ErrDecryptionFailed indicates credential decryption failed
	ErrDecryptionFailed = errors.New("credential decryption failed")
)

// AccountService is the account registry: connected mail accounts, their
// encrypted credentials and their sync watermarks.
type AccountService struct {
	db            *gorm.DB
	encryptionKey []byte // 32 bytes for AES-256
	logService    *LogService
}

// NewAccountService creates a new AccountService instance
func NewAccountService(db *gorm.DB, encryptionKey []byte) *AccountService {
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &AccountService{
		db:            db,
		encryptionKey: key,
		logService:    NewLogService(db),
	}
}

// encryptCredential encrypts a credential using AES-256-GCM
func (s *AccountService) encryptCredential(credential string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(credential), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptCredential decrypts a credential using AES-256-GCM
func (s *AccountService) decryptCredential(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// CreateAccountInput represents the input for registering a mail account
type CreateAccountInput struct {
	Email       string
	DisplayName string
	IMAPHost    string
	IMAPPort    int
	Username    string
	Credential  string
	AuthType    models.AuthType
	UseSSL      bool
	SyncDays    int
}

// CreateAccount registers a new mail account
func (s *AccountService) CreateAccount(input CreateAccountInput) (*models.Account, error) {
	// Validate required fields
	if input.Email == "" || input.IMAPHost == "" || input.Username == "" || input.Credential == "" {
		return nil, ErrInvalidAccountData
	}

	// Check if account already exists
	var existing models.Account
	if err := s.db.Where("email = ?", input.Email).First(&existing).Error; err == nil {
		return nil, ErrAccountAlreadyExists
	}

	// Encrypt the credential
	encrypted, err := s.encryptCredential(input.Credential)
	if err != nil {
		return nil, err
	}

	authType := input.AuthType
	if authType == "" {
		authType = models.AuthTypePassword
	}
	syncDays := input.SyncDays
	if syncDays == 0 {
		syncDays = 30
	}

	account := &models.Account{
		Email:               input.Email,
		DisplayName:         input.DisplayName,
		IMAPHost:            input.IMAPHost,
		IMAPPort:            input.IMAPPort,
		Username:            input.Username,
		CredentialEncrypted: encrypted,
		AuthType:            authType,
		UseSSL:              input.UseSSL,
		SyncEnabled:         true,
		SyncDays:            syncDays,
	}

	if err := s.db.Create(account).Error; err != nil {
		return nil, err
	}

	s.logService.LogAccountCreated(account.ID, account.Email)

	return account, nil
}

// GetAccountByID retrieves a mail account by ID
func (s *AccountService) GetAccountByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByEmail retrieves a mail account by its address
func (s *AccountService) GetAccountByEmail(email string) (*models.Account, error) {
	var account models.Account
	if err := s.db.Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccounts retrieves all registered mail accounts
func (s *AccountService) GetAccounts() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetSyncEnabledAccounts retrieves the accounts that participate in syncs
func (s *AccountService) GetSyncEnabledAccounts() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Where("sync_enabled = ?", true).Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetAccountsByIDs retrieves the given accounts, preserving registry order.
// Unknown ids are simply absent from the result.
func (s *AccountService) GetAccountsByIDs(ids []uint) ([]models.Account, error) {
	if len(ids) == 0 {
		return s.GetSyncEnabledAccounts()
	}
	var accounts []models.Account
	if err := s.db.Where("id IN ?", ids).Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateAccountInput represents the input for updating a mail account
type UpdateAccountInput struct {
	DisplayName string
	IMAPHost    string
	IMAPPort    int
	Username    string
	Credential  string // Optional: only update if not empty
	UseSSL      bool
	SyncDays    *int // 使用指针区分 0 和未设置
}

// UpdateAccount updates a mail account
func (s *AccountService) UpdateAccount(id uint, input UpdateAccountInput) (*models.Account, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return nil, err
	}

	// Update fields
	if input.DisplayName != "" {
		account.DisplayName = input.DisplayName
	}
	if input.IMAPHost != "" {
		account.IMAPHost = input.IMAPHost
	}
	if input.IMAPPort > 0 {
		account.IMAPPort = input.IMAPPort
	}
	if input.Username != "" {
		account.Username = input.Username
	}
	account.UseSSL = input.UseSSL

	if input.SyncDays != nil {
		account.SyncDays = *input.SyncDays
	}

	// Update credential if provided
	if input.Credential != "" {
		encrypted, err := s.encryptCredential(input.Credential)
		if err != nil {
			return nil, err
		}
		account.CredentialEncrypted = encrypted
	}

	if err := s.db.Save(account).Error; err != nil {
		return nil, err
	}

	s.logService.LogAccountUpdated(account.ID, account.Email)

	return account, nil
}

// DeleteAccount removes a mail account from the registry
func (s *AccountService) DeleteAccount(id uint) error {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return err
	}

	email := account.Email

	if err := s.db.Delete(account).Error; err != nil {
		return err
	}

	s.logService.LogAccountDeleted(id, email)

	return nil
}

// SetSyncEnabled turns sync participation on or off for an account
func (s *AccountService) SetSyncEnabled(id uint, enabled bool) (*models.Account, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return nil, err
	}

	account.SyncEnabled = enabled

	if err := s.db.Save(account).Error; err != nil {
		return nil, err
	}

	s.logService.LogAccountSyncToggled(account.ID, account.Email, enabled)

	return account, nil
}

// GetDecryptedCredential retrieves the decrypted credential for an account
func (s *AccountService) GetDecryptedCredential(account *models.Account) (string, error) {
	return s.decryptCredential(account.CredentialEncrypted)
}

// AdvanceWatermark records a completed fetch pass for an account. The
// watermark only moves forward; a re-run over an older window leaves it
// untouched.
func (s *AccountService) AdvanceWatermark(id uint, syncedAt time.Time) error {
	return s.db.Model(&models.Account{}).
		Where("id = ? AND last_synced_at < ?", id, syncedAt).
		Update("last_synced_at", syncedAt).Error
}

// ConnectionTestResult represents the result of a connection test
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestConnection tests the IMAP connection for a stored account
func (s *AccountService) TestConnection(account *models.Account) ConnectionTestResult {
	credential, err := s.decryptCredential(account.CredentialEncrypted)
	if err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: "Failed to decrypt credential: " + err.Error(),
		}
	}

	addr := buildAddress(account.IMAPHost, account.IMAPPort)
	return testIMAPConnectionInternal(addr, account.Username, credential, account.UseSSL)
}

// TestConnectionByID tests the connection for an account by ID
func (s *AccountService) TestConnectionByID(id uint) (ConnectionTestResult, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return ConnectionTestResult{}, err
	}

	return s.TestConnection(account), nil
}

// TestConnectionInput represents the input for testing a connection without saving
type TestConnectionInput struct {
	IMAPHost   string
	IMAPPort   int
	Username   string
	Credential string
	UseSSL     bool
}

// TestConnectionDirect tests the connection with provided credentials (without saving)
func (s *AccountService) TestConnectionDirect(input TestConnectionInput) ConnectionTestResult {
	addr := buildAddress(input.IMAPHost, input.IMAPPort)
	return testIMAPConnectionInternal(addr, input.Username, input.Credential, input.UseSSL)
}
