package heap

import "golang.org/x/exp/slog"

// SetAllocationUserData attaches an arbitrary value to a live allocation. It follows the allocation
// through Resize, is reported by PrintDetailedMap and Destroy, and is dropped when the allocation is
// released. Passing nil removes any value that was set.
func (a *Allocator) SetAllocationUserData(handle Handle, userData any) error {
	a.logger.Debug("Allocator::SetAllocationUserData", slog.Uint64("Handle", uint64(handle)))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.checkAlive()
	if err != nil {
		return err
	}

	_, err = a.resolve(handle)
	if err != nil {
		return err
	}

	if userData == nil {
		a.userData.Delete(handle)
	} else {
		a.userData.Put(handle, userData)
	}

	return nil
}

// AllocationUserData retrieves the value set with SetAllocationUserData, or nil if none was set
func (a *Allocator) AllocationUserData(handle Handle) (any, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.checkAlive()
	if err != nil {
		return nil, err
	}

	_, err = a.resolve(handle)
	if err != nil {
		return nil, err
	}

	userData, _ := a.userData.Get(handle)
	return userData, nil
}
