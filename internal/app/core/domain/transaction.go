package domain

import (
	"context"
	"fmt"
)

// TransactionKind 交易類型
// 原始紀錄只靠 target_account_id 有無來區分轉帳，這裡改成明確標記
type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindWithdraw TransactionKind = "withdraw"
	KindTransfer TransactionKind = "transfer"
)

// TransactionDirectory 交易實體需要的最小儲存介面
type TransactionDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
	Append(ctx context.Context, rec TransactionRecord) error
}

// Transaction 包裝一筆尚未驗證的交易 payload
type Transaction struct {
	raw Payload
}

// NewTransaction 以原始 payload 建立交易實體
// accountID 非空時覆寫 payload 內的 account_id (來源帳戶通常由路徑參數提供)
func NewTransaction(raw Payload, accountID string) *Transaction {
	p := make(Payload, len(raw)+1)
	for k, v := range raw {
		p[k] = v
	}
	if accountID != "" {
		p["account_id"] = accountID
	}
	return &Transaction{raw: p}
}

// ID 回傳 payload 內的交易 ID (不是字串時回傳空字串)
func (t *Transaction) ID() string {
	return stringValue(t.raw["id"])
}

// TargetAccountID 回傳轉帳目標帳戶 ID，非轉帳時為空字串
func (t *Transaction) TargetAccountID() string {
	return stringValue(t.raw["target_account_id"])
}

// Validate 檢查交易 payload
//
// 必填: amount_money (object) 以及其中的 amount (number)、currency (非空字串)；
// account_id 必填，除非呼叫端以 ignoreAccountID 表示它稍後才會由引擎補上。
// 選填: note、target_account_id，有提供就要是非空字串。
func (t *Transaction) Validate(ignoreAccountID bool) Diagnostic {
	var d Diagnostic

	// 巢狀 money 欄位: 完全沒給時連同巢狀欄位一起列缺，
	// 型別不對時只回報 amount_money 本身 (與帳戶的 balance 規則一致)
	switch m := t.raw["amount_money"].(type) {
	case nil:
		d.MissingFields = append(d.MissingFields, "amount_money", "amount", "currency")
	case Payload:
		checkMoney(m, &d)
	default:
		d.InvalidFields = append(d.InvalidFields, "amount_money")
	}

	if !ignoreAccountID {
		if accountID := t.raw["account_id"]; accountID == nil {
			d.MissingFields = append(d.MissingFields, "account_id")
		} else if invalidString(accountID) {
			d.InvalidFields = append(d.InvalidFields, "account_id")
		}
	}

	if note := t.raw["note"]; !isFalsy(note) && invalidString(note) {
		d.InvalidFields = append(d.InvalidFields, "note")
	}
	if target := t.raw["target_account_id"]; !isFalsy(target) && invalidString(target) {
		d.InvalidFields = append(d.InvalidFields, "target_account_id")
	}
	return d
}

// IsUnique 回傳 ID 是否為非空字串且尚未被任何交易使用
func (t *Transaction) IsUnique(ctx context.Context, transactions TransactionDirectory) (bool, error) {
	if t.ID() == "" {
		return false, nil
	}
	taken, err := transactions.Exists(ctx, t.ID())
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// Record 產生標準化交易紀錄並標上類型 (呼叫前應先通過 Validate)
func (t *Transaction) Record(kind TransactionKind) TransactionRecord {
	return TransactionRecord{
		ID:              t.ID(),
		AccountID:       stringValue(t.raw["account_id"]),
		TargetAccountID: t.TargetAccountID(),
		AmountMoney:     moneyFromPayload(t.raw["amount_money"]),
		Note:            stringValue(t.raw["note"]),
		Kind:            kind,
	}
}

// Save 驗證通過後將交易寫入儲存層；驗證失敗回傳 ValidationError 且不寫入
func (t *Transaction) Save(ctx context.Context, transactions TransactionDirectory, kind TransactionKind) error {
	if d := t.Validate(false); !d.OK() {
		return d.Err()
	}
	if err := transactions.Append(ctx, t.Record(kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// TransactionRecord 一筆已落帳的交易，落帳後不可修改
type TransactionRecord struct {
	ID              string          `json:"id" yaml:"id"`
	AccountID       string          `json:"account_id" yaml:"account_id"`
	TargetAccountID string          `json:"target_account_id,omitempty" yaml:"target_account_id,omitempty"`
	AmountMoney     Money           `json:"amount_money" yaml:"amount_money"`
	Note            string          `json:"note,omitempty" yaml:"note,omitempty"`
	Kind            TransactionKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Involves 回傳帳戶是否為這筆交易的來源或目標
func (r TransactionRecord) Involves(accountID string) bool {
	return r.AccountID == accountID || r.TargetAccountID == accountID
}

// InferKind 回傳交易類型，舊紀錄沒有標記時依欄位形狀推斷
// 有 target_account_id 一定是轉帳；其餘形狀無法區分存提款，推定為存款
func (r TransactionRecord) InferKind() TransactionKind {
	if r.Kind != "" {
		return r.Kind
	}
	if r.TargetAccountID != "" {
		return KindTransfer
	}
	return KindDeposit
}
