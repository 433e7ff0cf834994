package domain

import (
	"fmt"
	"math"
	"strings"
)

// SignalType tags the representation of a Value.
type SignalType uint8

const (
	SignalFloat SignalType = iota
	SignalInteger
)

func (t SignalType) String() string {
	switch t {
	case SignalFloat:
		return "float"
	case SignalInteger:
		return "integer"
	default:
		return "invalid"
	}
}

// ParseSignalType accepts the names used in configuration files.
func ParseSignalType(s string) (SignalType, error) {
	switch strings.ToLower(s) {
	case "", "float", "f", "double":
		return SignalFloat, nil
	case "integer", "int", "i":
		return SignalInteger, nil
	default:
		return 0, fmt.Errorf("unknown signal type %q", s)
	}
}

func (t SignalType) MarshalYAML() (any, error) { return t.String(), nil }

func (t *SignalType) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseSignalType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value is a tagged float/integer cell. The zero Value is float 0.
type Value struct {
	typ  SignalType
	bits uint64
}

func FloatValue(f float64) Value { return Value{typ: SignalFloat, bits: math.Float64bits(f)} }
func IntValue(i int64) Value     { return Value{typ: SignalInteger, bits: uint64(i)} }

func (v Value) Type() SignalType { return v.typ }

// Float returns the value as float64, converting integers.
func (v Value) Float() float64 {
	if v.typ == SignalInteger {
		return float64(int64(v.bits))
	}
	return math.Float64frombits(v.bits)
}

// Int returns the value as int64, truncating floats.
func (v Value) Int() int64 {
	if v.typ == SignalInteger {
		return int64(v.bits)
	}
	return int64(math.Float64frombits(v.bits))
}

// Cast converts v to type t.
func (v Value) Cast(t SignalType) Value {
	if v.typ == t {
		return v
	}
	if t == SignalInteger {
		return IntValue(v.Int())
	}
	return FloatValue(v.Float())
}

func (v Value) String() string {
	if v.typ == SignalInteger {
		return fmt.Sprintf("%d", v.Int())
	}
	return fmt.Sprintf("%.6f", v.Float())
}

// Signal describes one column of a sample.
type Signal struct {
	Name string     `yaml:"name" json:"name"`
	Unit string     `yaml:"unit,omitempty" json:"unit,omitempty"`
	Type SignalType `yaml:"type" json:"type"`
}

// SignalList is the ordered schema of the values carried by samples.
type SignalList []Signal

func (l SignalList) Clone() SignalList {
	if l == nil {
		return nil
	}
	out := make(SignalList, len(l))
	copy(out, l)
	return out
}

// Append returns a copy of l extended by sigs. Names must stay unique.
func (l SignalList) Append(sigs ...Signal) (SignalList, error) {
	out := make(SignalList, len(l), len(l)+len(sigs))
	copy(out, l)
	for _, s := range sigs {
		if s.Name != "" && out.IndexOf(s.Name) >= 0 {
			return nil, fmt.Errorf("duplicate signal %q", s.Name)
		}
		out = append(out, s)
	}
	return out, nil
}

// IndexOf returns the position of the named signal or -1.
func (l SignalList) IndexOf(name string) int {
	for i, s := range l {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func (l SignalList) String() string {
	parts := make([]string, len(l))
	for i, s := range l {
		parts[i] = s.Name + ":" + s.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
