// ABOUTME: Magic-byte signatures for format detection
// ABOUTME: Classifies a header prefix as a full, partial or missing match
package codec

import "bytes"

// Match is the outcome of checking a header against a signature.
type Match int

const (
	NoMatch Match = iota
	// PartialMatch means the header is too short to decide but everything
	// available agrees with the signature.
	PartialMatch
	FullMatch
)

// ProbeFunc classifies the first bytes of a source.
type ProbeFunc func(head []byte) Match

// pattern matches fixed bytes; a negative value is a wildcard.
func pattern(head []byte, want []int) Match {
	n := len(head)
	if n == 0 {
		return NoMatch
	}
	if n > len(want) {
		n = len(want)
	}
	for i := 0; i < n; i++ {
		if want[i] >= 0 && int(head[i]) != want[i] {
			return NoMatch
		}
	}
	if len(head) < len(want) {
		return PartialMatch
	}
	return FullMatch
}

func literal(s string) []int {
	out := make([]int, len(s))
	for i := range s {
		out[i] = int(s[i])
	}
	return out
}

var riffWave = append(append(literal("RIFF"), -1, -1, -1, -1), literal("WAVE")...)

func probeWAV(head []byte) Match {
	return pattern(head, riffWave)
}

func probeFLAC(head []byte) Match {
	return pattern(head, literal("fLaC"))
}

func probeBink(head []byte) Match {
	best := NoMatch
	for _, magic := range []string{"ABEU", "BIK", "KB2"} {
		if m := pattern(head, literal(magic)); m > best {
			best = m
		}
	}
	return best
}

// oggFirstPacket checks the first packet of an Ogg stream for a prefix.
func oggFirstPacket(head []byte, prefix []byte) Match {
	m := pattern(head, literal("OggS"))
	if m != FullMatch {
		return m
	}
	const segCount = 26
	if len(head) <= segCount {
		return PartialMatch
	}
	start := segCount + 1 + int(head[segCount])
	if len(head) <= start {
		return PartialMatch
	}
	payload := head[start:]
	if len(payload) < len(prefix) {
		if bytes.HasPrefix(prefix, payload) {
			return PartialMatch
		}
		return NoMatch
	}
	if bytes.HasPrefix(payload, prefix) {
		return FullMatch
	}
	return NoMatch
}

func probeOpus(head []byte) Match {
	return oggFirstPacket(head, []byte("OpusHead"))
}

var vorbisID = []byte("\x01vorbis")

func probeVorbis(head []byte) Match {
	return oggFirstPacket(head, vorbisID)
}

// probeMP3 accepts an ID3v2 tag or an MPEG audio Layer III frame header.
func probeMP3(head []byte) Match {
	if m := pattern(head, literal("ID3")); m != NoMatch {
		return m
	}
	if len(head) == 0 || head[0] != 0xFF {
		return NoMatch
	}
	if len(head) < 3 {
		if len(head) == 2 && head[1]&0xE0 != 0xE0 {
			return NoMatch
		}
		return PartialMatch
	}
	if head[1]&0xE0 != 0xE0 {
		return NoMatch
	}
	version := (head[1] >> 3) & 0x03
	layer := (head[1] >> 1) & 0x03
	bitrate := head[2] >> 4
	rate := (head[2] >> 2) & 0x03
	if version == 1 || layer != 1 || bitrate == 0x0F || rate == 0x03 {
		return NoMatch
	}
	return FullMatch
}
