package domain

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicateID 帳戶或交易 ID 與既有紀錄衝突
	ErrDuplicateID = errors.New("id already exists")

	// ErrAccountNotFound 找不到帳戶 (來源或目標)
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds 餘額不足，操作會使餘額變成負數
	ErrInsufficientFunds = errors.New("not enough funds")

	// ErrAmountOutOfBounds 轉帳金額超出允許範圍
	ErrAmountOutOfBounds = errors.New("transaction amount out of bounds")

	// ErrSameAccount 轉帳目標與來源帳戶相同
	ErrSameAccount = errors.New("source and target accounts are the same")

	// ErrPersistence 寫入交易紀錄失敗，相關餘額異動已回復
	ErrPersistence = errors.New("persistence failed")
)

// ValidationError 欄位驗證失敗
// 帶有缺漏與格式錯誤的欄位清單，讓呼叫端能產生精確的錯誤訊息
type ValidationError struct {
	MissingFields []string
	InvalidFields []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "Missing required field(s): "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.InvalidFields) > 0 {
		parts = append(parts, "Invalid field(s): "+strings.Join(e.InvalidFields, ", "))
	}
	if len(parts) == 0 {
		return "invalid payload"
	}
	return strings.Join(parts, " ")
}
