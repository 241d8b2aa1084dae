package heap

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/chunk"
	"github.com/vkngwrapper/arena/memutils/metadata"
)

// addDetailedStatistics reports an arena that was never laid out as the single free chunk it will become
func (a *Allocator) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	if !a.arena.Initialized() {
		stats.ArenaCount++
		stats.ArenaBytes += a.arena.Size()
		stats.AddUnusedRange(a.arena.Size())
		return
	}

	a.metadata.AddDetailedStatistics(stats)
}

// CalculateStatistics retrieves summary statistics for the arena. It is cheap, since it only
// reads counters.
func (a *Allocator) CalculateStatistics(stats *memutils.Statistics) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return err
	}

	stats.Clear()
	if !a.arena.Initialized() {
		stats.ArenaCount = 1
		stats.ArenaBytes = a.arena.Size()
		return nil
	}

	a.metadata.AddStatistics(stats)
	return nil
}

// DetailedStatistics retrieves statistics gathered by walking every chunk in the arena
func (a *Allocator) DetailedStatistics(stats *memutils.DetailedStatistics) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return err
	}

	stats.Clear()
	a.addDetailedStatistics(stats)
	return nil
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("ArenaCount").Int(stats.ArenaCount)
	json.Name("ArenaBytes").Int(stats.ArenaBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("RequestedBytes").Int(stats.RequestedBytes)
	json.Name("OverheadBytes").Int(stats.OverheadBytes())
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// BuildStatsString produces a JSON document describing the allocator's configuration and current
// statistics. If detailed is true, it also includes the map produced by PrintDetailedMap.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if a.destroyed {
		return ""
	}

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.addDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	configObj := objState.Name("Config").Object()
	configObj.Name("HeapSize").Int(a.arena.Size())
	configObj.Name("Flags").String(a.createFlags.String())
	configObj.Name("Strategy").String(a.strategy.String())
	configObj.Name("Initialized").Bool(a.arena.Initialized())
	configObj.End()

	totalObj := objState.Name("Total").Object()
	printStatistics(&totalObj, &stats)
	totalObj.End()

	if detailed {
		objState.Name("DetailedMap")
		a.printDetailedMap(&writer)
	}

	objState.End()
	return string(writer.Bytes())
}

// PrintDetailedMap writes a JSON object describing every chunk in the arena to the provided writer
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if a.destroyed {
		writer.Null()
		return
	}

	a.printDetailedMap(writer)
}

func (a *Allocator) printDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("UserDataCount").Int(a.userData.Count())

	if !a.arena.Initialized() {
		objState.Name("TotalBytes").Int(a.arena.Size())
		objState.Name("UnusedBytes").Int(a.arena.Size())
		return
	}

	a.metadata.BlockJsonData(&objState)
	a.printDetailedMapAllocations(&objState)
}

func (a *Allocator) printDetailedMapAllocations(json *jwriter.ObjectState) {
	arrayState := json.Name("Chunks").Array()
	defer arrayState.End()

	_ = a.metadata.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)

			if free {
				obj.Name("Type").String(chunk.Free.String())
				return nil
			}

			obj.Name("Type").String(chunk.InUse.String())
			obj.Name("Handle").Int(int(handle))

			requested, err := a.metadata.RequestedSize(handle)
			if err == nil {
				obj.Name("RequestedBytes").Int(requested)
			}

			userData, ok := a.userData.Get(Handle(handle))
			if ok {
				obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
			}

			return nil
		})
}
