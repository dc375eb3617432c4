package app

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const (
	minGameCode = 100000
	maxGameCode = 999999
)

// CodeAllocator mints human-typeable join codes.
type CodeAllocator interface {
	Allocate() string
}

// RandomCodeAllocator draws 6-digit codes uniformly. Uniqueness is enforced by
// the store's create-if-absent write, not here.
type RandomCodeAllocator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomCodeAllocator() *RandomCodeAllocator {
	return NewSeededCodeAllocator(time.Now().UnixNano())
}

// NewSeededCodeAllocator is deterministic for tests.
func NewSeededCodeAllocator(seed int64) *RandomCodeAllocator {
	return &RandomCodeAllocator{rnd: rand.New(rand.NewSource(seed))}
}

func (a *RandomCodeAllocator) Allocate() string {
	a.mu.Lock()
	n := minGameCode + a.rnd.Intn(maxGameCode-minGameCode+1)
	a.mu.Unlock()
	return strconv.Itoa(n)
}
