//go:build windows

package diskspace

import "golang.org/x/sys/windows"

func freeBytes(path string) (uint64, error) {
	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var available, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &available, &total, &totalFree); err != nil {
		return 0, err
	}
	return available, nil
}
