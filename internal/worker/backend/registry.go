package backend

import (
	"fmt"
	"sync"

	"automationhub/internal/enum"
)

// Creator builds a Backend from operator configuration, mirroring the
// teacher's runner.RuntimeCreator shape.
type Creator func(config map[string]interface{}) (Backend, error)

var (
	creators   = make(map[enum.BackendType]Creator)
	creatorsMu sync.RWMutex
)

// Register associates a Creator with a backend type. Backend packages call
// this from an init() so selecting a type by config pulls in only the
// backend actually used, exactly like the teacher's
// runner.RegisterRuntimeCreator / internal/docker/register.go pattern.
func Register(t enum.BackendType, c Creator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()
	creators[t] = c
}

// New builds a Backend of type t from config.
func New(t enum.BackendType, config map[string]interface{}) (Backend, error) {
	creatorsMu.RLock()
	c, ok := creators[t]
	creatorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: no creator registered for type %q", t)
	}
	return c(config)
}
