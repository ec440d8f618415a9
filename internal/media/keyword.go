package media

import (
	"fmt"
	"strings"
)

// KeywordType classifies what a keyword refers to.
type KeywordType int

// Keyword types. Add new values before keywordTypeCount.
const (
	KeywordName KeywordType = iota
	KeywordBrand
	KeywordCompetitor
	KeywordTopic
	KeywordAlias
	keywordTypeCount
)

// KeywordTypes lists every keyword type in declaration order.
func KeywordTypes() []KeywordType {
	out := make([]KeywordType, 0, keywordTypeCount)
	for t := KeywordName; t < keywordTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// String returns the persisted code for the type.
func (t KeywordType) String() string {
	switch t {
	case KeywordName:
		return "NAME"
	case KeywordBrand:
		return "BRAND"
	case KeywordCompetitor:
		return "COMPETITOR"
	case KeywordTopic:
		return "TOPIC"
	case KeywordAlias:
		return "ALIAS"
	}
	return fmt.Sprintf("KeywordType(%d)", int(t))
}

// Label returns the display label used in alerts.
func (t KeywordType) Label() string {
	switch t {
	case KeywordName:
		return "Nombre"
	case KeywordBrand:
		return "Marca"
	case KeywordCompetitor:
		return "Competidor"
	case KeywordTopic:
		return "Tema"
	case KeywordAlias:
		return "Alias"
	}
	return "Desconocido"
}

// ParseKeywordType converts a persisted code back into a KeywordType.
func ParseKeywordType(code string) (KeywordType, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, t := range KeywordTypes() {
		if t.String() == code {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown keyword type %q", code)
}

// MarshalText implements encoding.TextMarshaler.
func (t KeywordType) MarshalText() ([]byte, error) {
	if t < 0 || t >= keywordTypeCount {
		return nil, fmt.Errorf("invalid keyword type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *KeywordType) UnmarshalText(b []byte) error {
	parsed, err := ParseKeywordType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
