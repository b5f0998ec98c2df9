package pertask

import (
	"testing"

	"github.com/lavdgo/lavdgo/internal/constants"
)

func TestTable_GetOrCreate_LazyAndIdempotent(t *testing.T) {
	tbl := NewTable()
	c1, created := tbl.GetOrCreate(1, 100, 0, 4, 1_000_000)
	if !created {
		t.Fatal("first GetOrCreate should report created=true")
	}
	c2, created2 := tbl.GetOrCreate(1, 100, 0, 4, 1_000_000)
	if created2 {
		t.Fatal("second GetOrCreate should report created=false")
	}
	if c1 != c2 {
		t.Fatal("GetOrCreate returned different pointers for the same id")
	}
	if c1.Preferred.CPU != constants.NoPreferredCore {
		t.Fatalf("new Context PreferredCore = %d, want sentinel %d", c1.Preferred.CPU, constants.NoPreferredCore)
	}
}

func TestTable_RemoveDestroysContext(t *testing.T) {
	tbl := NewTable()
	tbl.GetOrCreate(5, 1, 0, 4, 1_000_000)
	tbl.Remove(5)
	if c := tbl.Get(5); c != nil {
		t.Fatalf("Get after Remove = %+v, want nil", c)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() after Remove = %d, want 0", tbl.Len())
	}
}

func TestTable_GetUnknownIsNil(t *testing.T) {
	tbl := NewTable()
	if c := tbl.Get(999); c != nil {
		t.Fatalf("Get(unknown) = %+v, want nil", c)
	}
}

func TestContext_MemoryHintNode_NoneObserved(t *testing.T) {
	c := NewContext(1, 1, 0, 4, 1_000_000)
	if got := c.MemoryHintNode(); got != -1 {
		t.Fatalf("MemoryHintNode() with no runtime = %d, want -1", got)
	}
}

func TestContext_MemoryHintNode_PicksHighestAccumulator(t *testing.T) {
	c := NewContext(1, 1, 0, 4, 1_000_000)
	c.NodeRuntime[2] = 100
	c.NodeRuntime[5] = 500
	c.NodeRuntime[1] = 50
	if got := c.MemoryHintNode(); got != 5 {
		t.Fatalf("MemoryHintNode() = %d, want 5", got)
	}
}

func TestContext_MemoryHintNode_TieBrokenByLastNode(t *testing.T) {
	c := NewContext(1, 1, 0, 4, 1_000_000)
	c.NodeRuntime[2] = 300
	c.NodeRuntime[6] = 300
	c.LastNode = 6
	if got := c.MemoryHintNode(); got != 6 {
		t.Fatalf("MemoryHintNode() tie-break = %d, want 6 (LastNode)", got)
	}
}
