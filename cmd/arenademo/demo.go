package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arena/heap"
	"github.com/vkngwrapper/arena/memutils"
	"github.com/vkngwrapper/arena/memutils/chunk"
	"golang.org/x/exp/slog"
)

const intSize = 4

func runDemo(out io.Writer, logger *slog.Logger) (err error) {
	if count < 0 || growTo < 0 {
		return errors.New("--count and --grow-to must not be negative")
	}

	var flags heap.CreateFlags
	if mapped {
		flags |= heap.CreateMappedArena
	}

	allocator, err := heap.New(logger, heap.CreateOptions{
		Flags:    flags,
		HeapSize: memutils.AlignDown(heapSize, chunk.Granularity),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create allocator")
	}
	defer func() {
		err = errors.CombineErrors(err, allocator.Destroy())
	}()

	err = runArray(out, allocator)
	if err != nil {
		return err
	}

	err = allocator.Validate()
	if err != nil {
		return errors.Wrap(err, "arena failed validation")
	}

	var stats memutils.DetailedStatistics
	err = allocator.DetailedStatistics(&stats)
	if err != nil {
		return err
	}
	if stats.AllocationCount != 0 || stats.UnusedRangeCount != 1 || stats.LargestFreeRange() != allocator.HeapSize() {
		return errors.Newf("arena did not return to a single free chunk: %d allocations, %d free ranges",
			stats.AllocationCount, stats.UnusedRangeCount)
	}
	fmt.Fprintf(out, "released: arena is a single free chunk of %d bytes\n", stats.LargestFreeRange())

	if jsonOut {
		fmt.Fprintln(out, allocator.BuildStatsString(true))
	}

	return nil
}

// runArray allocates the integer array, grows it and releases it again, even when a step fails
func runArray(out io.Writer, allocator *heap.Allocator) (err error) {
	handle, err := allocator.ZeroAllocate(count, intSize)
	if err != nil {
		return errors.Wrapf(err, "failed to allocate %d integers", count)
	}
	defer func() {
		err = errors.CombineErrors(err, errors.Wrap(allocator.Release(handle), "failed to release array"))
	}()

	err = writeRange(allocator, handle, 0, count)
	if err != nil {
		return err
	}
	err = printValues(out, allocator, handle, "allocated")
	if err != nil {
		return err
	}

	// On failure Resize hands back the original handle, which is still live
	handle, err = allocator.Resize(handle, growTo*intSize)
	if err != nil {
		return errors.Wrapf(err, "failed to resize to %d integers", growTo)
	}

	err = writeRange(allocator, handle, count, growTo)
	if err != nil {
		return err
	}
	return printValues(out, allocator, handle, "resized")
}

// writeRange stores the integers [from, to) at their own indices
func writeRange(allocator *heap.Allocator, handle heap.Handle, from, to int) error {
	payload, err := allocator.Bytes(handle)
	if err != nil {
		return err
	}

	for i := from; i < to; i++ {
		binary.LittleEndian.PutUint32(payload[i*intSize:], uint32(i))
	}
	return nil
}

func printValues(out io.Writer, allocator *heap.Allocator, handle heap.Handle, label string) error {
	payload, err := allocator.Bytes(handle)
	if err != nil {
		return err
	}

	values := make([]string, 0, len(payload)/intSize)
	for i := 0; i+intSize <= len(payload); i += intSize {
		values = append(values, fmt.Sprint(binary.LittleEndian.Uint32(payload[i:])))
	}

	usable, err := allocator.UsableSize(handle)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d integers (%d usable bytes): [%s]\n", label, len(values), usable, strings.Join(values, " "))
	return nil
}
