package track

import "slices"

// FieldKind は付随データの値として許可するプリミティブ型。
type FieldKind int

const (
	KindNumber FieldKind = iota + 1
	KindBoolean
)

func (k FieldKind) String() string {
	switch k {
	case KindNumber:
		return "数値"
	case KindBoolean:
		return "真偽値"
	default:
		return "不明な型"
	}
}

// accepts はJSONデコード済みの値がこの型に一致するかどうかを返す。
func (k FieldKind) accepts(v any) bool {
	switch k {
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// Schema はトラック種別ごとの付随データのキーと型の許可リスト。
type Schema map[string]FieldKind

// SchemaRegistry はトラック種別からスキーマを引く。
type SchemaRegistry interface {
	Lookup(name string) (Schema, bool)
	Names() []string
}

// StaticRegistry は固定のトラック種別表。生成後に変更しない。
type StaticRegistry map[string]Schema

// Lookup は種別名に対応するスキーマを返す。
func (r StaticRegistry) Lookup(name string) (Schema, bool) {
	s, ok := r[name]
	return s, ok
}

// Names は登録済みの種別名を昇順で返す。
func (r StaticRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BuiltinTrackTypes は組み込みのトラック種別表を返す。
// 呼び出しごとに新しい表を返すため、呼び出し側での変更は他に影響しない。
func BuiltinTrackTypes() StaticRegistry {
	return StaticRegistry{
		"TEST_TRACK":         {},
		"CONSUMED_WATER":     {"litresProduct": KindNumber},
		"CONSUMED_ALCOHOL":   {"litresProduct": KindNumber, "alcoholPercentage": KindNumber},
		"CONSUMED_FOOD":      {"gramsProduct": KindNumber, "caloriesTotal": KindNumber},
		"CONSUMED_CAFFEINE":  {"gramsProduct": KindNumber, "gramsCaffeine": KindNumber},
		"CONSUMED_CIGARETTE": {"gramsProduct": KindNumber, "gramsNicotine": KindNumber},
		"CONSUMED_SNUFF":     {"gramsProduct": KindNumber, "gramsNicotine": KindNumber},
		"EXCRETED_URINE":     {"litres": KindNumber},
		"EXCRETED_FECES":     {"litres": KindNumber},
		"EXCRETED_VOMIT":     {"litres": KindNumber},
		"HAIRCUT":            {"metersCut": KindNumber, "professional": KindBoolean},
		"BLOW_NOSE":          {},
		"BRUSH_TEETH":        {},
		"SHOWER":             {"temperature": KindNumber, "liters": KindNumber, "tub": KindBoolean},
		"SHAVE":              {"professional": KindBoolean},
		"HEARTACHE":          {},
		"HEADACHE":           {},
		"MASTURBATE":         {"orgasm": KindNumber},
		"SEX":                {"youOrgasm": KindNumber, "theyOrgasm": KindNumber},
		"CLIP_NAILS":         {"cutCentimeters": KindNumber},
		"COOKING":            {},
		"CLEANING":           {},
		"FART":               {},
		"POP_ZIT":            {"resqueeze": KindBoolean},
	}
}
