package usecase

import (
	"context"

	"accountledger/internal/app/core/domain"
)

// AccountStore 帳戶集合的儲存介面
// 核心只需要這幾個原語，記憶體實作與資料庫實作都能滿足
type AccountStore interface {
	domain.AccountDirectory
	FindByID(ctx context.Context, id string) (domain.AccountRecord, bool, error)
	Replace(ctx context.Context, id string, rec domain.AccountRecord) error
	List(ctx context.Context) ([]domain.AccountRecord, error)
}

// TransactionStore 交易集合的儲存介面
// 交易落帳後不可修改，Replace 僅為介面對稱保留，引擎不會對交易呼叫它
type TransactionStore interface {
	domain.TransactionDirectory
	FindByID(ctx context.Context, id string) (domain.TransactionRecord, bool, error)
	Replace(ctx context.Context, id string, rec domain.TransactionRecord) error
	List(ctx context.Context) ([]domain.TransactionRecord, error)
}
