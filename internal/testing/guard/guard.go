package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("HERALD_TEST_MODE") == "" {
			_ = os.Setenv("HERALD_TEST_MODE", "1")
		}
	})
}
