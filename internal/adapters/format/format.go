// Package format converts pooled samples to and from wire and file payloads.
package format

import (
	"errors"
	"fmt"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

// ErrTooManySamples is returned by Decode when the payload holds more samples
// than slots were provided. The first len(smps) samples are still filled.
var ErrTooManySamples = errors.New("payload holds more samples than provided slots")

// Format encodes a batch of samples into one payload and back.
type Format interface {
	Name() string
	Encode(smps []*domain.Sample) ([]byte, error)
	Decode(data []byte, smps []*domain.Sample) (int, error)
}

// Lookup returns the named format. The schema is used by formats that do not
// carry value types on the wire.
func Lookup(name string, signals domain.SignalList) (Format, error) {
	switch name {
	case "", "villas.binary", "binary":
		return &Binary{Signals: signals}, nil
	case "villas.human", "villas", "human":
		return &Human{Signals: signals}, nil
	case "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", name)
	}
}

func signalType(signals domain.SignalList, i int) domain.SignalType {
	if i < len(signals) {
		return signals[i].Type
	}
	return domain.SignalFloat
}
