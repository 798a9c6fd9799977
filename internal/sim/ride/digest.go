package ride

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"
)

// stateDigest hashes the control-relevant state at the end of a tick.
// Two rides fed the same commands over the same layout and movers must
// produce identical digest sequences; the replay tool depends on it.
func (r *Ride) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestU64(h, &tmp, nowTick)
	digestStr(h, string(r.mode))
	digestBool(h, r.running)

	for _, b := range r.blocks.blocks {
		digestU64(h, &tmp, uint64(b.ID))
		digestBool(h, b.Reversed)
		if b.occupant != nil {
			digestStr(h, b.occupant.ID)
		} else {
			digestStr(h, "")
		}
	}

	for _, d := range r.devices {
		digestStr(h, d.ID)
		digestStr(h, string(d.state))
		digestU64(h, &tmp, uint64(d.pos))
		digestU64(h, &tmp, uint64(d.target))
	}

	for _, vr := range r.dispatcher.active {
		digestStr(h, vr.ID)
		digestStr(h, string(vr.state))
		digestU64(h, &tmp, uint64(vr.CurrentBlock))
		digestBool(h, vr.Reversed)
		digestF64(h, &tmp, vr.lastSpeed)
	}

	digestStr(h, string(r.reverser.phase))
	digestU64(h, &tmp, uint64(r.dispatcher.PoolSize()))

	return hex.EncodeToString(h.Sum(nil))
}

func digestU64(h io.Writer, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestF64(h io.Writer, tmp *[8]byte, v float64) {
	digestU64(h, tmp, math.Float64bits(v))
}

func digestStr(h io.Writer, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	io.WriteString(h, s)
}

func digestBool(h io.Writer, b bool) {
	if b {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
}
