// Package token mints retrieval tokens for stored records.
//
// A token is derived from the creation instant so that tokens issued by one
// process sort roughly by age. Two tokens minted in the same second are
// disambiguated by a per-process counter, and a short random suffix keeps
// tokens from being guessed by walking the clock.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"strings"
	"sync"
	"time"
)

const suffixLength = 6

type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
	seq  uint64
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// NewGeneratorWithClock is used by tests that need tokens minted in the same
// clock quantum.
func NewGeneratorWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Next returns a token of the form <unix>[.<seq>]-<suffix>.
func (g *Generator) Next() string {
	g.mu.Lock()
	sec := g.now().Unix()
	if sec == g.last {
		g.seq++
	} else {
		g.last = sec
		g.seq = 0
	}
	seq := g.seq
	g.mu.Unlock()

	var b strings.Builder
	b.WriteString(strconv.FormatInt(sec, 10))
	if seq > 0 {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(seq, 36))
	}
	b.WriteByte('-')
	b.WriteString(randomSuffix())
	return b.String()
}

func randomSuffix() string {
	bytes := make([]byte, suffixLength)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)[:suffixLength]
}

// Issued recovers the creation second encoded in tok. It also understands
// bare unix-second tokens issued by earlier deployments.
func Issued(tok string) (time.Time, bool) {
	end := strings.IndexAny(tok, ".-")
	if end < 0 {
		end = len(tok)
	}
	sec, err := strconv.ParseInt(tok[:end], 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}
