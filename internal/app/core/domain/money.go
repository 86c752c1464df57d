package domain

// Money 金額與幣別
// 金額沿用宿主數值型別 (float64)，本核心不做任何換匯
type Money struct {
	Amount   float64 `json:"amount" yaml:"amount"`
	Currency string  `json:"currency" yaml:"currency"`
}

// moneyFromPayload 從 payload 的 money object 取出已驗證過的值
func moneyFromPayload(v any) Money {
	m, ok := v.(Payload)
	if !ok {
		return Money{}
	}
	return Money{
		Amount:   numberValue(m["amount"]),
		Currency: stringValue(m["currency"]),
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
