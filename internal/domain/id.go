package domain

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes for persisted records.
const (
	PrefixProject  = "proj"
	PrefixTeam     = "team"
	PrefixAgent    = "agent"
	PrefixTask     = "task"
	PrefixMessage  = "msg"
	PrefixActivity = "act"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a sortable unique id of the form "<prefix>_<ulid>".
func NewID(prefix string) string {
	idMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy)
	idMu.Unlock()
	s := strings.ToLower(id.String())
	if prefix == "" {
		return s
	}
	return prefix + "_" + s
}
