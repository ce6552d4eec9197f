package store

import (
	"testing"

	"github.com/warp/cashgame-ledger/ledger/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return NewMemory()
	})
}
