package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"accountledger/internal/app/core/domain"
	"accountledger/internal/app/core/usecase"
	"accountledger/pkg/mysql"
)

// sqlAccount 對應 accounts 表
// 餘額兩欄都用指標，NULL 表示帳戶尚未有餘額 (對應 domain 的 nil Balance)
type sqlAccount struct {
	ID              string `gorm:"primaryKey;size:64"`
	GivenName       string
	FamilyName      string
	EmailAddress    string
	Note            string
	BalanceAmount   *float64
	BalanceCurrency *string
	UpdatedAt       int64 `gorm:"autoUpdateTime:milli"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應 transactions 表，只寫入不更新
type sqlTransaction struct {
	ID              string `gorm:"primaryKey;size:64"`
	AccountID       string `gorm:"index;size:64"`
	TargetAccountID string `gorm:"index;size:64"`
	Amount          float64
	Currency        string
	Note            string
	Kind            string `gorm:"size:16"`
	CreatedAt       int64  `gorm:"autoCreateTime:milli"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// AutoMigrate 建立或更新兩張表的 schema
func AutoMigrate(client *mysql.Client) error {
	return client.DB().AutoMigrate(&sqlAccount{}, &sqlTransaction{})
}

// AccountStore 以 MySQL 為後端的帳戶儲存
type AccountStore struct {
	client *mysql.Client
}

func NewAccountStore(client *mysql.Client) *AccountStore {
	return &AccountStore{client: client}
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (domain.AccountRecord, bool, error) {
	var row sqlAccount
	err := s.client.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AccountRecord{}, false, nil
	}
	if err != nil {
		return domain.AccountRecord{}, false, err
	}
	return toAccountRecord(row), true, nil
}

func (s *AccountStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.client.DB().WithContext(ctx).Model(&sqlAccount{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *AccountStore) Append(ctx context.Context, rec domain.AccountRecord) error {
	row := fromAccountRecord(rec)
	return s.client.DB().WithContext(ctx).Create(&row).Error
}

func (s *AccountStore) Replace(ctx context.Context, id string, rec domain.AccountRecord) error {
	row := fromAccountRecord(rec)
	row.ID = id
	// Select 全欄位讓 NULL 餘額也能寫回去
	res := s.client.DB().WithContext(ctx).Model(&sqlAccount{}).
		Where("id = ?", id).
		Select("GivenName", "FamilyName", "EmailAddress", "Note", "BalanceAmount", "BalanceCurrency").
		Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *AccountStore) List(ctx context.Context) ([]domain.AccountRecord, error) {
	var rows []sqlAccount
	if err := s.client.DB().WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AccountRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAccountRecord(row))
	}
	return out, nil
}

// TransactionStore 以 MySQL 為後端的交易儲存
type TransactionStore struct {
	client *mysql.Client
}

func NewTransactionStore(client *mysql.Client) *TransactionStore {
	return &TransactionStore{client: client}
}

func (s *TransactionStore) FindByID(ctx context.Context, id string) (domain.TransactionRecord, bool, error) {
	var row sqlTransaction
	err := s.client.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.TransactionRecord{}, false, nil
	}
	if err != nil {
		return domain.TransactionRecord{}, false, err
	}
	return toTransactionRecord(row), true, nil
}

func (s *TransactionStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.client.DB().WithContext(ctx).Model(&sqlTransaction{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *TransactionStore) Append(ctx context.Context, rec domain.TransactionRecord) error {
	row := sqlTransaction{
		ID:              rec.ID,
		AccountID:       rec.AccountID,
		TargetAccountID: rec.TargetAccountID,
		Amount:          rec.AmountMoney.Amount,
		Currency:        rec.AmountMoney.Currency,
		Note:            rec.Note,
		Kind:            string(rec.Kind),
	}
	return s.client.DB().WithContext(ctx).Create(&row).Error
}

// Replace 交易落帳後不可修改，僅為滿足儲存介面保留
func (s *TransactionStore) Replace(ctx context.Context, id string, rec domain.TransactionRecord) error {
	return errors.New("mysql: transactions are immutable")
}

func (s *TransactionStore) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	var rows []sqlTransaction
	if err := s.client.DB().WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, toTransactionRecord(row))
	}
	return out, nil
}

func toAccountRecord(row sqlAccount) domain.AccountRecord {
	rec := domain.AccountRecord{
		ID:           row.ID,
		GivenName:    row.GivenName,
		FamilyName:   row.FamilyName,
		EmailAddress: row.EmailAddress,
		Note:         row.Note,
	}
	if row.BalanceAmount != nil {
		currency := ""
		if row.BalanceCurrency != nil {
			currency = *row.BalanceCurrency
		}
		rec.Balance = &domain.Money{Amount: *row.BalanceAmount, Currency: currency}
	}
	return rec
}

func fromAccountRecord(rec domain.AccountRecord) sqlAccount {
	row := sqlAccount{
		ID:           rec.ID,
		GivenName:    rec.GivenName,
		FamilyName:   rec.FamilyName,
		EmailAddress: rec.EmailAddress,
		Note:         rec.Note,
	}
	if rec.Balance != nil {
		amount, currency := rec.Balance.Amount, rec.Balance.Currency
		row.BalanceAmount = &amount
		row.BalanceCurrency = &currency
	}
	return row
}

func toTransactionRecord(row sqlTransaction) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:              row.ID,
		AccountID:       row.AccountID,
		TargetAccountID: row.TargetAccountID,
		AmountMoney:     domain.Money{Amount: row.Amount, Currency: row.Currency},
		Note:            row.Note,
		Kind:            domain.TransactionKind(row.Kind),
	}
}

var (
	_ usecase.AccountStore     = (*AccountStore)(nil)
	_ usecase.TransactionStore = (*TransactionStore)(nil)
)
