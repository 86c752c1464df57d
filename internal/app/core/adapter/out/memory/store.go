package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"accountledger/internal/app/core/domain"
	"accountledger/internal/app/core/usecase"
	"accountledger/pkg/wal"
)

var (
	errIDTaken  = errors.New("memory: id already present")
	errIDAbsent = errors.New("memory: id not present")
)

// AccountStore 記憶體帳戶儲存
// 有序 slice 保留寫入順序，index map 提供 O(1) 查找
type AccountStore struct {
	mu    sync.Mutex
	recs  []domain.AccountRecord
	index map[string]int
}

// NewAccountStore 建立帳戶儲存，seed 依序寫入 (通常來自設定檔的初始帳戶)
func NewAccountStore(seed []domain.AccountRecord) *AccountStore {
	s := &AccountStore{index: make(map[string]int)}
	for _, rec := range seed {
		if _, ok := s.index[rec.ID]; ok {
			continue
		}
		s.index[rec.ID] = len(s.recs)
		s.recs = append(s.recs, rec.Clone())
	}
	return s
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (domain.AccountRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return domain.AccountRecord{}, false, nil
	}
	// 回傳拷貝，呼叫端改動不會影響內部狀態
	return s.recs[i].Clone(), true, nil
}

func (s *AccountStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok, nil
}

func (s *AccountStore) Append(ctx context.Context, rec domain.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[rec.ID]; ok {
		return errIDTaken
	}
	s.index[rec.ID] = len(s.recs)
	s.recs = append(s.recs, rec.Clone())
	return nil
}

func (s *AccountStore) Replace(ctx context.Context, id string, rec domain.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return errIDAbsent
	}
	s.recs[i] = rec.Clone()
	return nil
}

func (s *AccountStore) List(ctx context.Context) ([]domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AccountRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// TransactionStore 記憶體交易儲存
// journal 非 nil 時每筆 Append 先寫日誌再進記憶體；
// 日誌寫入失敗時 Append 整筆失敗，讓引擎走回滾路徑
type TransactionStore struct {
	mu      sync.Mutex
	recs    []domain.TransactionRecord
	index   map[string]int
	journal *wal.WAL
}

// NewTransactionStore 建立交易儲存並重放既有日誌
//
// 參數:
//
//	journal: 附加式日誌，nil 表示純記憶體 (測試用)
//
// 回傳:
//
//	*TransactionStore: 已載入日誌內容的儲存
//	error: 日誌重放失敗
func NewTransactionStore(journal *wal.WAL) (*TransactionStore, error) {
	s := &TransactionStore{
		index:   make(map[string]int),
		journal: journal,
	}
	if journal == nil {
		return s, nil
	}
	err := journal.ReadAll(func(jsonRaw []byte) error {
		var rec domain.TransactionRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		if _, ok := s.index[rec.ID]; ok {
			return nil
		}
		s.index[rec.ID] = len(s.recs)
		s.recs = append(s.recs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TransactionStore) FindByID(ctx context.Context, id string) (domain.TransactionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return domain.TransactionRecord{}, false, nil
	}
	return s.recs[i], true, nil
}

func (s *TransactionStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok, nil
}

func (s *TransactionStore) Append(ctx context.Context, rec domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[rec.ID]; ok {
		return errIDTaken
	}
	if s.journal != nil {
		if err := s.journal.Write(rec); err != nil {
			return err
		}
	}
	s.index[rec.ID] = len(s.recs)
	s.recs = append(s.recs, rec)
	return nil
}

// Replace 交易落帳後不可修改，僅為滿足儲存介面保留
func (s *TransactionStore) Replace(ctx context.Context, id string, rec domain.TransactionRecord) error {
	return errors.New("memory: transactions are immutable")
}

func (s *TransactionStore) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TransactionRecord, len(s.recs))
	copy(out, s.recs)
	return out, nil
}

// Replay 將交易歷史依序重放回帳戶餘額
// 行程重啟後，設定檔只提供帳戶的初始狀態，日誌裡的交易要再套用一次
// 重放跳過找不到帳戶的紀錄，不會中斷
func Replay(ctx context.Context, accounts *AccountStore, transactions *TransactionStore) error {
	recs, err := transactions.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		switch rec.InferKind() {
		case domain.KindDeposit:
			applyCredit(accounts, rec.AccountID, rec.AmountMoney)
		case domain.KindWithdraw:
			applyDebit(accounts, rec.AccountID, rec.AmountMoney.Amount)
		case domain.KindTransfer:
			applyDebit(accounts, rec.AccountID, rec.AmountMoney.Amount)
			applyCredit(accounts, rec.TargetAccountID, rec.AmountMoney)
		}
	}
	return nil
}

func applyCredit(accounts *AccountStore, id string, m domain.Money) {
	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	i, ok := accounts.index[id]
	if !ok {
		return
	}
	// 日誌裡的交易當時都通過過檢查，重放時不再驗證
	_ = accounts.recs[i].Credit(m.Amount, m.Currency)
}

func applyDebit(accounts *AccountStore, id string, amount float64) {
	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	i, ok := accounts.index[id]
	if !ok {
		return
	}
	_ = accounts.recs[i].Debit(amount)
}

var (
	_ usecase.AccountStore     = (*AccountStore)(nil)
	_ usecase.TransactionStore = (*TransactionStore)(nil)
)
