package domain

import "math"

// Payload 尚未驗證的原始輸入 (通常是 JSON decode 出來的 body)
type Payload = map[string]any

// FieldType 欄位宣告型別
type FieldType uint8

const (
	FieldString FieldType = iota + 1
	FieldObject
	FieldNumber
)

// FieldSpec 單一欄位的規格宣告
type FieldSpec struct {
	Key      string
	Type     FieldType
	Optional bool
}

// Diagnostic 欄位檢查結果
// MissingFields: 必填但沒有提供的欄位
// InvalidFields: 有提供但型別不符的欄位
type Diagnostic struct {
	MissingFields []string
	InvalidFields []string
}

// OK 回傳是否完全通過檢查
func (d Diagnostic) OK() bool {
	return len(d.MissingFields) == 0 && len(d.InvalidFields) == 0
}

// Err 將檢查結果轉成 *ValidationError，通過時回傳 nil
func (d Diagnostic) Err() error {
	if d.OK() {
		return nil
	}
	return &ValidationError{
		MissingFields: d.MissingFields,
		InvalidFields: d.InvalidFields,
	}
}

// isFalsy 判斷值是否視為「未提供」
// 注意: 空字串與數字 0 依照既有 payload 規則也算未提供
func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	case float64:
		return x == 0
	case int:
		return x == 0
	case int64:
		return x == 0
	}
	return false
}

// notObject 判斷值是否不是一個合法的 object (陣列不算)
func notObject(v any) bool {
	_, ok := v.(Payload)
	return !ok
}

// invalidString 判斷值是否不是非空字串
func invalidString(v any) bool {
	s, ok := v.(string)
	return !ok || s == ""
}

// invalidNumber 判斷值是否不是有限數字
// JSON decode 後數字都是 float64，程式內自行組 payload 時也接受整數型別；
// NaN 與 ±Inf 會讓餘額運算失去意義，一律視為格式錯誤
func invalidNumber(v any) bool {
	switch x := v.(type) {
	case float64:
		return math.IsNaN(x) || math.IsInf(x, 0)
	case float32:
		f := float64(x)
		return math.IsNaN(f) || math.IsInf(f, 0)
	case int, int64:
		return false
	}
	return true
}

// CheckFields 依欄位規格清單逐一分類 payload 欄位
//
// 參數:
//
//	p: 原始 payload
//	fields: 欄位規格清單
//
// 回傳:
//
//	Diagnostic: 缺漏與格式錯誤欄位清單
//
// 無副作用，相同輸入永遠得到相同結果
func CheckFields(p Payload, fields []FieldSpec) Diagnostic {
	var d Diagnostic
	for _, f := range fields {
		v := p[f.Key]
		if isFalsy(v) {
			if !f.Optional {
				d.MissingFields = append(d.MissingFields, f.Key)
			}
			continue
		}
		var bad bool
		switch f.Type {
		case FieldString:
			bad = invalidString(v)
		case FieldObject:
			bad = notObject(v)
		case FieldNumber:
			bad = invalidNumber(v)
		default:
			bad = true
		}
		if bad {
			d.InvalidFields = append(d.InvalidFields, f.Key)
		}
	}
	return d
}

// checkMoney 檢查巢狀的 money object
// amount 與 currency 用「有沒有出現」判斷缺漏 (nil 才算缺)，
// 所以 amount 為 0 是合法值，和最外層的 falsy 規則不同
func checkMoney(money Payload, d *Diagnostic) {
	amount, currency := money["amount"], money["currency"]

	if amount == nil {
		d.MissingFields = append(d.MissingFields, "amount")
	} else if invalidNumber(amount) {
		d.InvalidFields = append(d.InvalidFields, "amount")
	}

	if currency == nil {
		d.MissingFields = append(d.MissingFields, "currency")
	} else if invalidString(currency) {
		d.InvalidFields = append(d.InvalidFields, "currency")
	}
}

// numberValue 將 payload 內的數字值轉成 float64
func numberValue(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}
