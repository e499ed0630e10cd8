package hoard

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// PrintDetailedMap writes a JSON description of every block in the
// heap, in address order, to the provided writer. It is a diagnostic
// aid and walks the whole heap.
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	if !a.initialized() {
		writer.Null()
		return
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats DetailedStatistics
	stats.Clear()
	stats.HeapBytes = a.memory.Size()
	_ = a.visitAllBlocks(func(handle BlockHandle, offset, size int, free bool) error {
		if free {
			stats.AddFreeRegion(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})

	objState := writer.Object()
	defer objState.End()

	objState.Name("TotalBytes").Int(stats.HeapBytes)
	objState.Name("Allocations").Int(stats.AllocationCount)
	objState.Name("AllocatedBytes").Int(stats.AllocationBytes)
	objState.Name("FreeRegions").Int(stats.FreeRegionCount)

	a.printDetailedMapBlocks(objState)
}

func (a *Allocator) printDetailedMapBlocks(json jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = a.visitAllBlocks(func(handle BlockHandle, offset, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("FREE")
			return nil
		}

		obj.Name("Type").String("ALLOCATED")
		if a.registry != nil {
			info, ok := a.registry.Get(handle)
			if ok {
				obj.Name("RequestedSize").Int(info.RequestedSize)
			}
		}
		return nil
	})
}

// BuildStatsString builds the JSON produced by PrintDetailedMap into a
// byte slice.
func (a *Allocator) BuildStatsString() ([]byte, error) {
	writer := jwriter.NewWriter()
	a.PrintDetailedMap(&writer)

	err := writer.Error()
	if err != nil {
		return nil, err
	}
	return writer.Bytes(), nil
}
