package pipeline

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// digest folds a sequence of fields into a single deterministic uint64.
// It is the structured-text-stability mechanism spec.md allows
// implementations to substitute for the reference hash, as long as it is
// deterministic across runs: each field is length-prefixed before being
// fed to the running xxhash digest so that adjacent fields can never be
// confused with each other (e.g. ("ab","c") vs ("a","bc")).
type digest struct {
	h *xxhash.Digest
}

func newDigest() *digest {
	return &digest{h: xxhash.New()}
}

func (d *digest) writeString(s string) {
	var lenBuf [8]byte
	putUint64(lenBuf[:], uint64(len(s)))
	_, _ = d.h.Write(lenBuf[:])
	_, _ = d.h.Write([]byte(s))
}

func (d *digest) writeBool(b bool) {
	if b {
		_, _ = d.h.Write([]byte{1})
	} else {
		_, _ = d.h.Write([]byte{0})
	}
}

func (d *digest) writeBytes(b []byte) {
	var lenBuf [8]byte
	putUint64(lenBuf[:], uint64(len(b)))
	_, _ = d.h.Write(lenBuf[:])
	_, _ = d.h.Write(b)
}

func (d *digest) sum() uint64 {
	return d.h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// jsonMarshal / jsonUnmarshal are the structured-text encode/decode used
// both for the default per-key Deserializer and for hashing values at a
// step's consumed keys: rendering through a stable textual form is what
// spec.md requires for hashInputs to be reproducible across process
// restarts (a raw interface{} hash would not survive re-decoding).
func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
