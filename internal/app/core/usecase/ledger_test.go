package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memory_adapter "accountledger/internal/app/core/adapter/out/memory"
	"accountledger/internal/app/core/domain"
	"accountledger/internal/app/core/usecase"
)

// seedAccounts 測試固定帳戶 (取自原始系統的初始資料)
func seedAccounts() []domain.AccountRecord {
	return []domain.AccountRecord{
		{ID: "0001", GivenName: "Amelia", Balance: &domain.Money{Amount: 100, Currency: "USD"}},
		{ID: "0002", GivenName: "Test", Balance: &domain.Money{Amount: 10, Currency: "USD"}},
		{ID: "0004", GivenName: "Jane", Balance: &domain.Money{Amount: 47, Currency: "USD"}},
	}
}

func newLedger(t *testing.T) (*usecase.Ledger, *memory_adapter.AccountStore, *memory_adapter.TransactionStore) {
	t.Helper()
	accounts := memory_adapter.NewAccountStore(seedAccounts())
	transactions, err := memory_adapter.NewTransactionStore(nil)
	require.NoError(t, err)
	return usecase.NewLedger(accounts, transactions, nil), accounts, transactions
}

func depositPayload(id string, amount float64) domain.Payload {
	return domain.Payload{
		"id":           id,
		"amount_money": domain.Payload{"amount": amount, "currency": "USD"},
	}
}

func sendPayload(id, target string, amount float64) domain.Payload {
	p := depositPayload(id, amount)
	p["target_account_id"] = target
	return p
}

func balanceOf(t *testing.T, l *usecase.Ledger, id string) float64 {
	t.Helper()
	acc, err := l.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.BalanceAmount()
}

// TestDepositScenario 帳戶 0001 餘額 100，存入 10 -> 餘額 110，
// 交易 t1 落帳且 account_id 為 0001
func TestDepositScenario(t *testing.T) {
	l, _, transactions := newLedger(t)
	ctx := context.Background()

	rec, err := l.Deposit(ctx, "0001", depositPayload("t1", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.KindDeposit, rec.Kind)
	assert.Equal(t, float64(110), balanceOf(t, l, "0001"))

	stored, ok, err := transactions.FindByID(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0001", stored.AccountID)
	assert.Equal(t, float64(10), stored.AmountMoney.Amount)
}

// TestDepositAdoptsCurrency 帳戶還沒有餘額時，第一次入金採用交易的幣別
func TestDepositAdoptsCurrency(t *testing.T) {
	l, accounts, _ := newLedger(t)
	ctx := context.Background()
	require.NoError(t, accounts.Append(ctx, domain.AccountRecord{ID: "0009"}))

	_, err := l.Deposit(ctx, "0009", depositPayload("t1", 25))
	require.NoError(t, err)

	acc, err := l.GetAccount(ctx, "0009")
	require.NoError(t, err)
	require.NotNil(t, acc.Balance)
	assert.Equal(t, "USD", acc.Balance.Currency)
	assert.Equal(t, float64(25), acc.Balance.Amount)
}

func TestDepositValidation(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Deposit(ctx, "0001", domain.Payload{"id": "t1"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"amount_money", "amount", "currency"}, verr.MissingFields)

	// 驗證失敗不可動到餘額
	assert.Equal(t, float64(100), balanceOf(t, l, "0001"))
}

func TestDepositAccountNotFound(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.Deposit(context.Background(), "9999", depositPayload("t1", 10))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

// TestDuplicateTransactionID 既有交易 1001，任何操作重用它都要在異動前被擋下
func TestDuplicateTransactionID(t *testing.T) {
	l, _, transactions := newLedger(t)
	ctx := context.Background()
	require.NoError(t, transactions.Append(ctx, domain.TransactionRecord{
		ID:        "1001",
		AccountID: "0001",
		Kind:      domain.KindDeposit,
	}))

	_, err := l.Deposit(ctx, "0001", depositPayload("1001", 10))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	_, err = l.Withdraw(ctx, "0001", depositPayload("1001", 10))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	_, err = l.Send(ctx, "0001", sendPayload("1001", "0002", 10))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	// 所有操作都在異動前失敗
	assert.Equal(t, float64(100), balanceOf(t, l, "0001"))
	assert.Equal(t, float64(10), balanceOf(t, l, "0002"))
}

// TestWithdrawInsufficient 餘額 47 提款 50 -> 餘額不變、沒有交易落帳
func TestWithdrawInsufficient(t *testing.T) {
	l, _, transactions := newLedger(t)
	ctx := context.Background()

	_, err := l.Withdraw(ctx, "0004", depositPayload("t5", 50))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, float64(47), balanceOf(t, l, "0004"))

	recs, err := transactions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWithdraw(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	rec, err := l.Withdraw(ctx, "0001", depositPayload("t6", 30))
	require.NoError(t, err)
	assert.Equal(t, domain.KindWithdraw, rec.Kind)
	assert.Equal(t, float64(70), balanceOf(t, l, "0001"))
}

// TestWithdrawNoPositiveBalance 完全沒有正餘額的帳戶不可提款
func TestWithdrawNoPositiveBalance(t *testing.T) {
	l, accounts, _ := newLedger(t)
	ctx := context.Background()
	require.NoError(t, accounts.Append(ctx, domain.AccountRecord{ID: "0008"}))

	_, err := l.Withdraw(ctx, "0008", depositPayload("t7", 1))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

// TestSendConservation 成功轉帳後兩帳戶餘額總和不變
func TestSendConservation(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	before := balanceOf(t, l, "0001") + balanceOf(t, l, "0002")

	rec, err := l.Send(ctx, "0001", sendPayload("t8", "0002", 40))
	require.NoError(t, err)
	assert.Equal(t, domain.KindTransfer, rec.Kind)
	assert.Equal(t, "0002", rec.TargetAccountID)

	assert.Equal(t, float64(60), balanceOf(t, l, "0001"))
	assert.Equal(t, float64(50), balanceOf(t, l, "0002"))
	assert.Equal(t, before, balanceOf(t, l, "0001")+balanceOf(t, l, "0002"))
}

// TestSendSelfTransfer 自己轉給自己 -> ErrSameAccount，t9 不可落帳
func TestSendSelfTransfer(t *testing.T) {
	l, _, transactions := newLedger(t)
	ctx := context.Background()

	_, err := l.Send(ctx, "0001", sendPayload("t9", "0001", 5))
	assert.ErrorIs(t, err, domain.ErrSameAccount)
	assert.Equal(t, float64(100), balanceOf(t, l, "0001"))

	_, ok, err := transactions.FindByID(ctx, "t9")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestSendAmountBounds 金額範圍是閉區間 [1, 1000]
func TestSendAmountBounds(t *testing.T) {
	tests := []struct {
		amount float64
		ok     bool
	}{
		{0.99, false},
		{1, true},
		{1000, true},
		{1000.01, false},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("amount=%v", tt.amount), func(t *testing.T) {
			accounts := memory_adapter.NewAccountStore([]domain.AccountRecord{
				{ID: "A", Balance: &domain.Money{Amount: 5000, Currency: "USD"}},
				{ID: "B", Balance: &domain.Money{Amount: 0, Currency: "USD"}},
			})
			transactions, err := memory_adapter.NewTransactionStore(nil)
			require.NoError(t, err)
			l := usecase.NewLedger(accounts, transactions, nil)

			_, err = l.Send(context.Background(), "A", sendPayload(fmt.Sprintf("t%d", i), "B", tt.amount))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrAmountOutOfBounds)
			}
		})
	}
}

func TestSendMissingTarget(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.Send(context.Background(), "0001", depositPayload("t10", 5))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.MissingFields, "target_account_id")
}

func TestSendAccountNotFound(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Send(ctx, "0001", sendPayload("t11", "9999", 5))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = l.Send(ctx, "9999", sendPayload("t12", "0001", 5))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Equal(t, float64(100), balanceOf(t, l, "0001"))
}

func TestSendInsufficient(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.Send(context.Background(), "0002", sendPayload("t13", "0001", 11))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, float64(10), balanceOf(t, l, "0002"))
}

func TestCreateAccount(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	rec, err := l.CreateAccount(ctx, domain.Payload{
		"id":      "0005",
		"balance": domain.Payload{"amount": float64(20), "currency": "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0005", rec.ID)
	assert.Equal(t, float64(20), balanceOf(t, l, "0005"))

	// ID 衝突
	_, err = l.CreateAccount(ctx, domain.Payload{"id": "0001"})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	// 驗證失敗
	_, err = l.CreateAccount(ctx, domain.Payload{"given_name": "NoID"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGetAccountTransactions(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Deposit(ctx, "0001", depositPayload("t20", 10))
	require.NoError(t, err)
	_, err = l.Send(ctx, "0002", sendPayload("t21", "0001", 5))
	require.NoError(t, err)
	_, err = l.Withdraw(ctx, "0004", depositPayload("t22", 7))
	require.NoError(t, err)

	// 0001 是 t20 的來源、t21 的目標
	recs, err := l.GetAccountTransactions(ctx, "0001")
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"t20", "t21"}, ids)

	_, err = l.GetAccountTransactions(ctx, "9999")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

// TestNonFiniteAmountRejected NaN 與 ±Inf 能通過大小比較，
// 一旦進到餘額運算就再也洗不掉，必須在驗證階段擋下
func TestNonFiniteAmountRejected(t *testing.T) {
	l, _, transactions := newLedger(t)
	ctx := context.Background()

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := l.Deposit(ctx, "0001", depositPayload("t40", amount))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr, "deposit amount=%v", amount)
		assert.Contains(t, verr.InvalidFields, "amount")

		_, err = l.Withdraw(ctx, "0001", depositPayload("t41", amount))
		assert.ErrorAs(t, err, &verr, "withdraw amount=%v", amount)

		_, err = l.Send(ctx, "0001", sendPayload("t42", "0002", amount))
		assert.ErrorAs(t, err, &verr, "send amount=%v", amount)
	}

	// 餘額沒被污染，也沒有任何交易落帳
	assert.Equal(t, float64(100), balanceOf(t, l, "0001"))
	assert.Equal(t, float64(10), balanceOf(t, l, "0002"))
	recs, err := transactions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// TestListAll 列出所有帳戶與所有交易
func TestListAll(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	accs, err := l.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accs, 3)

	_, err = l.Deposit(ctx, "0001", depositPayload("t50", 10))
	require.NoError(t, err)
	_, err = l.Withdraw(ctx, "0002", depositPayload("t51", 5))
	require.NoError(t, err)

	recs, err := l.ListTransactions(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"t50", "t51"}, ids)
}

// failingTransactions 包裝真實儲存但讓 Append 一律失敗，模擬落帳失敗
type failingTransactions struct {
	usecase.TransactionStore
}

func (f *failingTransactions) Append(ctx context.Context, rec domain.TransactionRecord) error {
	return errors.New("disk full")
}

// TestRollbackOnPersistenceFailure 落帳失敗時餘額必須回復到與呼叫前完全相同
func TestRollbackOnPersistenceFailure(t *testing.T) {
	accounts := memory_adapter.NewAccountStore(seedAccounts())
	inner, err := memory_adapter.NewTransactionStore(nil)
	require.NoError(t, err)
	l := usecase.NewLedger(accounts, &failingTransactions{inner}, nil)
	ctx := context.Background()

	_, err = l.Deposit(ctx, "0001", depositPayload("t30", 10))
	assert.ErrorIs(t, err, domain.ErrPersistence)

	_, err = l.Withdraw(ctx, "0001", depositPayload("t31", 10))
	assert.ErrorIs(t, err, domain.ErrPersistence)

	_, err = l.Send(ctx, "0001", sendPayload("t32", "0002", 10))
	assert.ErrorIs(t, err, domain.ErrPersistence)

	// 三個操作都失敗後，餘額與初始完全相同
	acc, _, err := accounts.FindByID(ctx, "0001")
	require.NoError(t, err)
	assert.Equal(t, domain.Money{Amount: 100, Currency: "USD"}, *acc.Balance)
	acc, _, err = accounts.FindByID(ctx, "0002")
	require.NoError(t, err)
	assert.Equal(t, domain.Money{Amount: 10, Currency: "USD"}, *acc.Balance)
}

// TestGetAccountDuringRollback 讀取與轉帳共用帳戶鎖:
// 轉帳途中或回滾前的半成品餘額不可被任何讀取看到
func TestGetAccountDuringRollback(t *testing.T) {
	accounts := memory_adapter.NewAccountStore(seedAccounts())
	inner, err := memory_adapter.NewTransactionStore(nil)
	require.NoError(t, err)
	l := usecase.NewLedger(accounts, &failingTransactions{inner}, nil)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := l.Send(ctx, "0001", sendPayload(fmt.Sprintf("rb-%d", i), "0002", 10))
			assert.ErrorIs(t, err, domain.ErrPersistence)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			acc, err := l.GetAccount(ctx, "0001")
			assert.NoError(t, err)
			assert.Equal(t, float64(100), acc.BalanceAmount())
		}
	}()
	wg.Wait()
}

// TestConcurrentTransfersConservation 高併發交互轉帳後總額不變且皆非負
func TestConcurrentTransfersConservation(t *testing.T) {
	accounts := memory_adapter.NewAccountStore([]domain.AccountRecord{
		{ID: "A", Balance: &domain.Money{Amount: 1000, Currency: "USD"}},
		{ID: "B", Balance: &domain.Money{Amount: 1000, Currency: "USD"}},
	})
	transactions, err := memory_adapter.NewTransactionStore(nil)
	require.NoError(t, err)
	l := usecase.NewLedger(accounts, transactions, nil)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := l.Send(ctx, "A", sendPayload(fmt.Sprintf("ab-%d", i), "B", 1)); err != nil {
				t.Errorf("A->B: %v", err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Send(ctx, "B", sendPayload(fmt.Sprintf("ba-%d", i), "A", 1)); err != nil {
				t.Errorf("B->A: %v", err)
			}
		}(i)
	}
	wg.Wait()

	a := balanceOf(t, l, "A")
	b := balanceOf(t, l, "B")
	assert.GreaterOrEqual(t, a, float64(0))
	assert.GreaterOrEqual(t, b, float64(0))
	assert.Equal(t, float64(2000), a+b)

	// 交易 ID 全部唯一: 每筆剛好落帳一次
	recs, err := transactions.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2*n)
	seen := make(map[string]int)
	for _, rec := range recs {
		seen[rec.ID]++
	}
	for id, count := range seen {
		assert.Equalf(t, 1, count, "transaction %s recorded %d times", id, count)
	}
}

// TestConcurrentSameID 相同交易 ID 並發打進來，只能成功一次
func TestConcurrentSameID(t *testing.T) {
	l, _, transactions := newLedger(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := l.Deposit(ctx, "0001", depositPayload("dup", 10)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, float64(110), balanceOf(t, l, "0001"))

	recs, err := transactions.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
