package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
)

// twoPow32 is the denominator of a uniform draw: rng = u / 2^32.
const twoPow32 uint64 = 1 << 32

// HashSeed returns hex(SHA256(seed)), the public commitment of a server seed.
func HashSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// Digest returns HMAC-SHA256(key, msg).
func Digest(key, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// Uint32At reads the big-endian word at byte offset off of a digest.
func Uint32At(digest []byte, off int) uint32 {
	return binary.BigEndian.Uint32(digest[off : off+4])
}

// Stream yields the uniform draws for one (serverSeed, clientSeed, nonce).
// The first draw is the first four bytes of
// HMAC-SHA256(serverSeed, "{clientSeed}:{nonce}"); following draws take the
// next words of that digest, then of HMAC over "{clientSeed}:{nonce}:{round}"
// for round 1, 2, and so on.
type Stream struct {
	serverSeed string
	clientSeed string
	nonce      int64

	round  int
	digest []byte
	offset int
	trace  []string
}

func NewStream(serverSeed, clientSeed string, nonce int64) *Stream {
	s := &Stream{serverSeed: serverSeed, clientSeed: clientSeed, nonce: nonce}
	s.refill()
	return s
}

func (s *Stream) refill() {
	msg := s.clientSeed + ":" + strconv.FormatInt(s.nonce, 10)
	if s.round > 0 {
		msg += ":" + strconv.Itoa(s.round)
	}
	s.digest = Digest(s.serverSeed, msg)
	s.offset = 0
	s.trace = append(s.trace, hex.EncodeToString(s.digest))
}

// Next returns the next raw draw u; the uniform value is u / 2^32.
func (s *Stream) Next() uint32 {
	if s.offset+4 > len(s.digest) {
		s.round++
		s.refill()
	}
	u := Uint32At(s.digest, s.offset)
	s.offset += 4
	return u
}

// Intn maps the next draw onto [0, n) as floor(u * n / 2^32).
func (s *Stream) Intn(n int64) int64 {
	return int64((uint64(s.Next()) * uint64(n)) >> 32)
}

// Trace is the comma-joined hex of every digest consumed so far.
func (s *Stream) Trace() string {
	return strings.Join(s.trace, ",")
}
