package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building canonical cbor encoder: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building cbor decoder: %v", err))
	}
	decMode = dm
}

// EncodeSnapshot serializes a Snapshot using a self-describing binary
// format with stable field order, per the wire contract for the pub/sub
// transport.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot deserializes a Snapshot payload. Deserialization failure
// is a recoverable error: callers should log and drop the one message,
// not tear down their receive loop.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := decMode.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("wire: decoding snapshot: %w", err)
	}
	return s, nil
}

// EncodeFloat64 serializes a single fractional-seconds value, used for the
// time-sync response body.
func EncodeFloat64(v float64) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding float: %w", err)
	}
	return b, nil
}

// DecodeFloat64 deserializes a single fractional-seconds value.
func DecodeFloat64(b []byte) (float64, error) {
	var v float64
	if err := decMode.Unmarshal(b, &v); err != nil {
		return 0, fmt.Errorf("wire: decoding float: %w", err)
	}
	return v, nil
}
