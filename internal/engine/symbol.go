package engine

import "fmt"

// Symbol is one of the fixed board symbols. The zero value is an empty cell.
type Symbol uint8

const (
	Empty Symbol = iota
	Blue
	Green
	Purple
	Red
	Cup
	Ring
	Hourglass
	Crown
	Scatter

	symbolCount
)

// Canonical two-letter codes; these appear in JSON and in hashed grid strings
// so they must never change.
var symbolCodes = [symbolCount]string{
	Empty:     "--",
	Blue:      "BL",
	Green:     "GR",
	Purple:    "PU",
	Red:       "RD",
	Cup:       "CU",
	Ring:      "RI",
	Hourglass: "HG",
	Crown:     "CR",
	Scatter:   "SC",
}

// PayingSymbols lists the symbols that can form clusters, lowest value first.
func PayingSymbols() []Symbol {
	return []Symbol{Blue, Green, Purple, Red, Cup, Ring, Hourglass, Crown}
}

func (s Symbol) String() string {
	if s < symbolCount {
		return symbolCodes[s]
	}
	return fmt.Sprintf("Symbol(%d)", uint8(s))
}

// Valid reports whether s is a known symbol (including Empty).
func (s Symbol) Valid() bool { return s < symbolCount }

// IsPaying reports whether s can be part of a pay cluster.
func (s Symbol) IsPaying() bool { return s >= Blue && s <= Crown }

// ParseSymbol maps a canonical code back to its symbol.
func ParseSymbol(code string) (Symbol, error) {
	for i, c := range symbolCodes {
		if c == code {
			return Symbol(i), nil
		}
	}
	return Empty, fmt.Errorf("unknown symbol code %q", code)
}

func (s Symbol) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid symbol %d", uint8(s))
	}
	return []byte(symbolCodes[s]), nil
}

func (s *Symbol) UnmarshalText(b []byte) error {
	v, err := ParseSymbol(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
