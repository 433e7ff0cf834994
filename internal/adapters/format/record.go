package format

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// JSON encodes a batch as an array of ports.Record objects.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(smps []*domain.Sample) ([]byte, error) {
	return json.Marshal(toRecords(smps))
}

func (JSON) Decode(data []byte, smps []*domain.Sample) (int, error) {
	var recs []ports.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return 0, fmt.Errorf("decode json samples: %w", err)
	}
	return fromRecords(recs, smps)
}

// CBOR is the binary counterpart of JSON with integer map keys.
type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Encode(smps []*domain.Sample) ([]byte, error) {
	return cbor.Marshal(toRecords(smps))
}

func (CBOR) Decode(data []byte, smps []*domain.Sample) (int, error) {
	var recs []ports.Record
	if err := cbor.Unmarshal(data, &recs); err != nil {
		return 0, fmt.Errorf("decode cbor samples: %w", err)
	}
	return fromRecords(recs, smps)
}

func toRecords(smps []*domain.Sample) []*ports.Record {
	recs := make([]*ports.Record, len(smps))
	for i, s := range smps {
		recs[i] = ports.NewRecord(s)
	}
	return recs
}

func fromRecords(recs []ports.Record, smps []*domain.Sample) (int, error) {
	n := min(len(recs), len(smps))
	for i := 0; i < n; i++ {
		if err := recs[i].Into(smps[i]); err != nil {
			return i, err
		}
	}
	if len(recs) > len(smps) {
		return n, ErrTooManySamples
	}
	return n, nil
}
