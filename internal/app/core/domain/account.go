package domain

import (
	"context"
	"fmt"
)

// accountFields 帳戶欄位規格: id 必填，其餘選填但有提供就檢查型別
var accountFields = []FieldSpec{
	{Key: "given_name", Type: FieldString, Optional: true},
	{Key: "family_name", Type: FieldString, Optional: true},
	{Key: "email_address", Type: FieldString, Optional: true},
	{Key: "id", Type: FieldString},
	{Key: "balance", Type: FieldObject, Optional: true},
	{Key: "note", Type: FieldString, Optional: true},
}

// AccountDirectory 帳戶實體需要的最小儲存介面
type AccountDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
	Append(ctx context.Context, rec AccountRecord) error
}

// Account 包裝一筆尚未驗證的帳戶 payload
type Account struct {
	raw Payload
}

// NewAccount 以原始 payload 建立帳戶實體
func NewAccount(raw Payload) *Account {
	if raw == nil {
		raw = Payload{}
	}
	return &Account{raw: raw}
}

// ID 回傳 payload 內的帳戶 ID (不是字串時回傳空字串)
func (a *Account) ID() string {
	return stringValue(a.raw["id"])
}

// Validate 依帳戶欄位規格檢查 payload
// balance 有提供且是合法 object 時，再檢查巢狀的 amount 與 currency
func (a *Account) Validate() Diagnostic {
	d := CheckFields(a.raw, accountFields)

	if balance, ok := a.raw["balance"]; ok && !isFalsy(balance) && !notObject(balance) {
		checkMoney(balance.(Payload), &d)
	}
	return d
}

// IsUnique 回傳 ID 是否為非空字串且尚未被任何帳戶使用
func (a *Account) IsUnique(ctx context.Context, accounts AccountDirectory) (bool, error) {
	if a.ID() == "" {
		return false, nil
	}
	taken, err := accounts.Exists(ctx, a.ID())
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// Record 產生標準化的帳戶紀錄 (呼叫前應先通過 Validate)
func (a *Account) Record() AccountRecord {
	rec := AccountRecord{
		ID:           a.ID(),
		GivenName:    stringValue(a.raw["given_name"]),
		FamilyName:   stringValue(a.raw["family_name"]),
		EmailAddress: stringValue(a.raw["email_address"]),
		Note:         stringValue(a.raw["note"]),
	}
	if balance, ok := a.raw["balance"]; ok && !notObject(balance) {
		m := moneyFromPayload(balance)
		rec.Balance = &m
	}
	return rec
}

// Save 驗證通過後將帳戶寫入儲存層；驗證失敗回傳 ValidationError 且不寫入
// 不檢查唯一性，呼叫端應先用 IsUnique 確認
func (a *Account) Save(ctx context.Context, accounts AccountDirectory) error {
	if d := a.Validate(); !d.OK() {
		return d.Err()
	}
	if err := accounts.Append(ctx, a.Record()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// AccountRecord 一筆標準化的帳戶紀錄
// Balance 為 nil 代表帳戶尚未有任何餘額 (第一次入金時才建立)
type AccountRecord struct {
	ID           string `json:"id" yaml:"id"`
	GivenName    string `json:"given_name,omitempty" yaml:"given_name,omitempty"`
	FamilyName   string `json:"family_name,omitempty" yaml:"family_name,omitempty"`
	EmailAddress string `json:"email_address,omitempty" yaml:"email_address,omitempty"`
	Note         string `json:"note,omitempty" yaml:"note,omitempty"`
	Balance      *Money `json:"balance,omitempty" yaml:"balance,omitempty"`
}

// BalanceAmount 回傳目前餘額，沒有餘額時視為 0
func (r *AccountRecord) BalanceAmount() float64 {
	if r.Balance == nil {
		return 0
	}
	return r.Balance.Amount
}

// Credit 入金
// 帳戶尚未有幣別時採用這次入金的幣別；結果為負數時拒絕，維持餘額非負
func (r *AccountRecord) Credit(amount float64, currency string) error {
	next := r.BalanceAmount() + amount
	if next < 0 {
		return ErrInsufficientFunds
	}
	if r.Balance == nil {
		r.Balance = &Money{Currency: currency}
	}
	if r.Balance.Currency == "" {
		r.Balance.Currency = currency
	}
	r.Balance.Amount = next
	return nil
}

// Debit 扣款，餘額不足以涵蓋金額時拒絕
func (r *AccountRecord) Debit(amount float64) error {
	if r.Balance == nil || r.Balance.Amount-amount < 0 {
		return ErrInsufficientFunds
	}
	r.Balance.Amount -= amount
	return nil
}

// Clone 回傳深拷貝，作為回滾用的異動前快照
func (r *AccountRecord) Clone() AccountRecord {
	cp := *r
	if r.Balance != nil {
		b := *r.Balance
		cp.Balance = &b
	}
	return cp
}
