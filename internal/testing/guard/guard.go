// Package guard forces test mode on import so packages under test never
// perform runtime side effects.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("AUTHZ_TEST_MODE") == "" {
			_ = os.Setenv("AUTHZ_TEST_MODE", "1")
		}
	})
}
