package normalize

import (
	"hash/fnv"
	"sync"
)

// keyLock serializes writes per identity key across concurrent source
// workers. Keys hash onto a fixed set of stripes; two sources updating the
// same record always contend on the same stripe, while unrelated keys
// almost always proceed in parallel.
type keyLock struct {
	stripes [64]sync.Mutex
}

func (l *keyLock) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m
}
