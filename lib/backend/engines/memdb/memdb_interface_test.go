package memdb

import (
	"testing"

	"github.com/ValentinKolb/dps/lib/backend"
	betesting "github.com/ValentinKolb/dps/lib/backend/testing"
)

func Test(t *testing.T) {
	betesting.RunBackendTests(t, "MemDB", func() backend.Backend {
		return New(nil)
	})
}
