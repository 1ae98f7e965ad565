package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	m       sync.Mutex
)

// NewULID returns a lower case, lexically sortable id. Used for run ids so log lines of successive runs sort in order.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewShortId returns the first block of a random uuid, enough to tell workers and tasks of one run apart in logs.
func NewShortId() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
