package fs

import "sync"

// DeviceDriver services reads and writes against an inode whose type is
// FileTypeCharDevice or FileTypeBlockDevice. The core never implements a
// concrete driver (that's out of scope per spec.md section 1's Non-goals);
// this is the dispatch point a caller hooks into, per SPEC_FULL.md's
// "Device nodes" supplement.
type DeviceDriver interface {
	ReadAt(deviceInodeID uint64, offset uint64, buf []byte) (int, error)
	WriteAt(deviceInodeID uint64, offset uint64, buf []byte) (int, error)
}

var (
	deviceRegistryMu sync.RWMutex
	deviceRegistry   = map[uint64]DeviceDriver{}
)

// RegisterDevice associates deviceInodeID with a driver, so inodes created
// with that device_inode_id dispatch I/O to it instead of the block map.
func RegisterDevice(deviceInodeID uint64, driver DeviceDriver) {
	deviceRegistryMu.Lock()
	defer deviceRegistryMu.Unlock()
	deviceRegistry[deviceInodeID] = driver
}

// UnregisterDevice removes a previously registered driver.
func UnregisterDevice(deviceInodeID uint64) {
	deviceRegistryMu.Lock()
	defer deviceRegistryMu.Unlock()
	delete(deviceRegistry, deviceInodeID)
}

func lookupDevice(deviceInodeID uint64) (DeviceDriver, bool) {
	deviceRegistryMu.RLock()
	defer deviceRegistryMu.RUnlock()
	driver, ok := deviceRegistry[deviceInodeID]
	return driver, ok
}
