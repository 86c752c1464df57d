package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"accountledger/internal/app/core/domain"
)

// 單筆轉帳金額的允許範圍 (閉區間)
const (
	MinTransactionAmount float64 = 1
	MaxTransactionAmount float64 = 1000
)

// Ledger 帳本引擎
//
// 所有操作都遵循同一個流程:
// 驗證 -> 跨實體檢查 -> 異動餘額 -> 落帳 -> 落帳失敗則回滾
//
// 引擎是帳戶餘額唯一的寫入者，也是交易紀錄唯一的附加者。
// 同一帳戶的操作彼此序列化，不相干帳戶的操作可以並行。
type Ledger struct {
	accounts     AccountStore
	transactions TransactionStore
	logger       *zap.Logger

	// 帳戶鎖表: 依排序後的帳戶 ID 依序取鎖避免死結
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	// 進行中的交易 ID 預約，讓「檢查唯一 -> 落帳」之間不會被搶先
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewLedger 建立帳本引擎
func NewLedger(accounts AccountStore, transactions TransactionStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		accounts:     accounts,
		transactions: transactions,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
		inflight:     make(map[string]struct{}),
	}
}

// lockAccounts 取得指定帳戶的專屬鎖，回傳釋放函式
// ID 先去重再排序，任何操作都用同一個順序取鎖
func (l *Ledger) lockAccounts(ids ...string) func() {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, id := range uniq {
		l.lockMu.Lock()
		mu, ok := l.locks[id]
		if !ok {
			mu = &sync.Mutex{}
			l.locks[id] = mu
		}
		l.lockMu.Unlock()

		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// reserveTxID 預約交易 ID，已被其他進行中操作預約時失敗
func (l *Ledger) reserveTxID(id string) bool {
	l.inflightMu.Lock()
	defer l.inflightMu.Unlock()
	if _, ok := l.inflight[id]; ok {
		return false
	}
	l.inflight[id] = struct{}{}
	return true
}

func (l *Ledger) releaseTxID(id string) {
	l.inflightMu.Lock()
	defer l.inflightMu.Unlock()
	delete(l.inflight, id)
}

// CreateAccount 建立帳戶: 驗證 -> 檢查 ID 唯一 -> 寫入
func (l *Ledger) CreateAccount(ctx context.Context, payload domain.Payload) (domain.AccountRecord, error) {
	acc := domain.NewAccount(payload)
	if d := acc.Validate(); !d.OK() {
		return domain.AccountRecord{}, d.Err()
	}

	unlock := l.lockAccounts(acc.ID())
	defer unlock()

	unique, err := acc.IsUnique(ctx, l.accounts)
	if err != nil {
		return domain.AccountRecord{}, fmt.Errorf("check account id: %w", err)
	}
	if !unique {
		return domain.AccountRecord{}, domain.ErrDuplicateID
	}
	if err := acc.Save(ctx, l.accounts); err != nil {
		return domain.AccountRecord{}, err
	}

	rec := acc.Record()
	l.logger.Info("account created", zap.String("account_id", rec.ID))
	return rec, nil
}

// GetAccount 查詢單一帳戶
// 讀取也走帳戶鎖，不會看到轉帳途中或回滾前的半成品餘額
func (l *Ledger) GetAccount(ctx context.Context, id string) (domain.AccountRecord, error) {
	unlock := l.lockAccounts(id)
	defer unlock()

	acc, ok, err := l.accounts.FindByID(ctx, id)
	if err != nil {
		return domain.AccountRecord{}, fmt.Errorf("find account: %w", err)
	}
	if !ok {
		return domain.AccountRecord{}, domain.ErrAccountNotFound
	}
	return acc, nil
}

// GetAccountTransactions 查詢帳戶相關交易 (作為來源或目標都算)
func (l *Ledger) GetAccountTransactions(ctx context.Context, id string) ([]domain.TransactionRecord, error) {
	unlock := l.lockAccounts(id)
	defer unlock()

	exists, err := l.accounts.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	all, err := l.transactions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]domain.TransactionRecord, 0)
	for _, rec := range all {
		if rec.Involves(id) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListAccounts 依建立順序列出所有帳戶
func (l *Ledger) ListAccounts(ctx context.Context) ([]domain.AccountRecord, error) {
	all, err := l.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return all, nil
}

// ListTransactions 依落帳順序列出所有交易
func (l *Ledger) ListTransactions(ctx context.Context) ([]domain.TransactionRecord, error) {
	all, err := l.transactions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return all, nil
}

// Deposit 存款
//
// 流程:
//  1. 以 payload + account_id 組出交易並驗證
//  2. 交易 ID 必須唯一
//  3. 帳戶必須存在
//  4. 餘額加上金額，帳戶原本沒有幣別時採用這次的幣別
//  5. 落帳；落帳失敗回復異動前快照並回傳 ErrPersistence
func (l *Ledger) Deposit(ctx context.Context, accountID string, payload domain.Payload) (domain.TransactionRecord, error) {
	tr := domain.NewTransaction(payload, accountID)
	if d := tr.Validate(false); !d.OK() {
		return domain.TransactionRecord{}, d.Err()
	}

	unlock := l.lockAccounts(accountID)
	defer unlock()

	if err := l.checkTxIDUnique(ctx, tr); err != nil {
		return domain.TransactionRecord{}, err
	}
	defer l.releaseTxID(tr.ID())

	acc, ok, err := l.accounts.FindByID(ctx, accountID)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("find account: %w", err)
	}
	if !ok {
		return domain.TransactionRecord{}, domain.ErrAccountNotFound
	}

	rec := tr.Record(domain.KindDeposit)
	snapshot := acc.Clone()
	if err := acc.Credit(rec.AmountMoney.Amount, rec.AmountMoney.Currency); err != nil {
		return domain.TransactionRecord{}, err
	}
	if err := l.accounts.Replace(ctx, accountID, acc); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if err := tr.Save(ctx, l.transactions, domain.KindDeposit); err != nil {
		l.restore(ctx, snapshot)
		return domain.TransactionRecord{}, err
	}

	l.logger.Info("deposit applied",
		zap.String("account_id", accountID),
		zap.String("transaction_id", rec.ID),
		zap.Float64("amount", rec.AmountMoney.Amount))
	return rec, nil
}

// Withdraw 提款
//
// 與存款流程相同，但多了餘額檢查:
// 帳戶完全沒有正餘額，或扣款後會變負數，都以 ErrInsufficientFunds 拒絕
func (l *Ledger) Withdraw(ctx context.Context, accountID string, payload domain.Payload) (domain.TransactionRecord, error) {
	tr := domain.NewTransaction(payload, accountID)
	if d := tr.Validate(false); !d.OK() {
		return domain.TransactionRecord{}, d.Err()
	}

	unlock := l.lockAccounts(accountID)
	defer unlock()

	if err := l.checkTxIDUnique(ctx, tr); err != nil {
		return domain.TransactionRecord{}, err
	}
	defer l.releaseTxID(tr.ID())

	acc, ok, err := l.accounts.FindByID(ctx, accountID)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("find account: %w", err)
	}
	if !ok {
		return domain.TransactionRecord{}, domain.ErrAccountNotFound
	}
	if acc.BalanceAmount() <= 0 {
		return domain.TransactionRecord{}, domain.ErrInsufficientFunds
	}

	rec := tr.Record(domain.KindWithdraw)
	snapshot := acc.Clone()
	if err := acc.Debit(rec.AmountMoney.Amount); err != nil {
		return domain.TransactionRecord{}, err
	}
	if err := l.accounts.Replace(ctx, accountID, acc); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if err := tr.Save(ctx, l.transactions, domain.KindWithdraw); err != nil {
		l.restore(ctx, snapshot)
		return domain.TransactionRecord{}, err
	}

	l.logger.Info("withdraw applied",
		zap.String("account_id", accountID),
		zap.String("transaction_id", rec.ID),
		zap.Float64("amount", rec.AmountMoney.Amount))
	return rec, nil
}

// Send 轉帳
//
// 所有前置檢查通過前不動任何帳戶；任一檢查失敗時兩個帳戶都與呼叫前完全相同。
// 檢查順序: 驗證 -> ID 唯一 -> 金額範圍 -> 目標不可等於來源 -> 兩帳戶存在 -> 餘額足夠
func (l *Ledger) Send(ctx context.Context, accountID string, payload domain.Payload) (domain.TransactionRecord, error) {
	tr := domain.NewTransaction(payload, accountID)
	if d := tr.Validate(false); !d.OK() {
		return domain.TransactionRecord{}, d.Err()
	}
	targetID := tr.TargetAccountID()
	if targetID == "" {
		return domain.TransactionRecord{}, &domain.ValidationError{MissingFields: []string{"target_account_id"}}
	}

	unlock := l.lockAccounts(accountID, targetID)
	defer unlock()

	if err := l.checkTxIDUnique(ctx, tr); err != nil {
		return domain.TransactionRecord{}, err
	}
	defer l.releaseTxID(tr.ID())

	rec := tr.Record(domain.KindTransfer)
	amount := rec.AmountMoney.Amount
	if amount < MinTransactionAmount || amount > MaxTransactionAmount {
		return domain.TransactionRecord{}, domain.ErrAmountOutOfBounds
	}
	if targetID == accountID {
		return domain.TransactionRecord{}, domain.ErrSameAccount
	}

	source, ok, err := l.accounts.FindByID(ctx, accountID)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("find source account: %w", err)
	}
	if !ok {
		return domain.TransactionRecord{}, domain.ErrAccountNotFound
	}
	target, ok, err := l.accounts.FindByID(ctx, targetID)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("find target account: %w", err)
	}
	if !ok {
		return domain.TransactionRecord{}, domain.ErrAccountNotFound
	}
	if source.BalanceAmount()-amount < 0 {
		return domain.TransactionRecord{}, domain.ErrInsufficientFunds
	}

	sourceSnap := source.Clone()
	targetSnap := target.Clone()

	if err := source.Debit(amount); err != nil {
		return domain.TransactionRecord{}, err
	}
	if err := target.Credit(amount, rec.AmountMoney.Currency); err != nil {
		return domain.TransactionRecord{}, err
	}
	if err := l.accounts.Replace(ctx, accountID, source); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := l.accounts.Replace(ctx, targetID, target); err != nil {
		l.restore(ctx, sourceSnap)
		return domain.TransactionRecord{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if err := tr.Save(ctx, l.transactions, domain.KindTransfer); err != nil {
		l.restore(ctx, sourceSnap, targetSnap)
		return domain.TransactionRecord{}, err
	}

	l.logger.Info("transfer applied",
		zap.String("source_account_id", accountID),
		zap.String("target_account_id", targetID),
		zap.String("transaction_id", rec.ID),
		zap.Float64("amount", amount))
	return rec, nil
}

// checkTxIDUnique 預約交易 ID 並確認儲存層裡沒有同 ID 的交易
// 成功時保留預約，由呼叫端以 releaseTxID 釋放
func (l *Ledger) checkTxIDUnique(ctx context.Context, tr *domain.Transaction) error {
	if !l.reserveTxID(tr.ID()) {
		return domain.ErrDuplicateID
	}
	unique, err := tr.IsUnique(ctx, l.transactions)
	if err != nil {
		l.releaseTxID(tr.ID())
		return fmt.Errorf("check transaction id: %w", err)
	}
	if !unique {
		l.releaseTxID(tr.ID())
		return domain.ErrDuplicateID
	}
	return nil
}

// restore 將帳戶回復成異動前快照
// 回滾使用與異動相同的 Replace 原語；失敗只能記錄，不再往外拋
func (l *Ledger) restore(ctx context.Context, snapshots ...domain.AccountRecord) {
	for _, snap := range snapshots {
		if err := l.accounts.Replace(ctx, snap.ID, snap); err != nil {
			l.logger.Error("rollback failed",
				zap.String("account_id", snap.ID),
				zap.Error(err))
		}
	}
}
