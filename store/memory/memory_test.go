package memory_test

import (
	"testing"

	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/store/memory"
	"github.com/apettas/adeies/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
}
