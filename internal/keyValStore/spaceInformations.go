package keyValStore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

// calculateDirectorySize calculates the total size of files within a directory
func calculateDirectorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// getDeviceAndMountPoint returns the partition with the longest mount point
// that contains path.
func getDeviceAndMountPoint(path string) (device, mountPoint string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}

	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", "", fmt.Errorf("unable to list partitions: %v", err)
	}

	for _, p := range partitions {
		if !strings.HasPrefix(abs, p.Mountpoint) {
			continue
		}
		if len(p.Mountpoint) > len(mountPoint) {
			device, mountPoint = p.Device, p.Mountpoint
		}
	}
	if mountPoint == "" {
		return "", "", fmt.Errorf("unable to find mount for path %s", path)
	}
	return device, mountPoint, nil
}

// DiskUsage summarises the volume that holds a store.
type DiskUsage struct {
	Path       string
	Device     string
	MountPoint string
	TotalGB    float64
	UsedGB     float64
	FreeGB     float64
	StoreGB    float64
}

// ReadDiskUsage collects DiskUsage for path. Device and mount point stay empty
// when the partition table cannot be read.
func ReadDiskUsage(path string) (DiskUsage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskUsage{}, err
	}

	pathSize, err := calculateDirectorySize(path)
	if err != nil {
		return DiskUsage{}, err
	}

	du := DiskUsage{
		Path:    path,
		TotalGB: float64(usage.Total) / 1e9,
		UsedGB:  float64(usage.Used) / 1e9,
		FreeGB:  float64(usage.Free) / 1e9,
		StoreGB: float64(pathSize) / 1e9,
	}
	du.Device, du.MountPoint, _ = getDeviceAndMountPoint(path)
	return du, nil
}

// displayDiskUsage displays the disk usage information using structured logging
func (k *KeyValStore) displayDiskUsage(paths []string) error {
	k.log.Debug("Displaying disk usage information for paths")

	for _, path := range paths {
		du, err := ReadDiskUsage(path)
		if err != nil {
			k.log.WithFields(logrus.Fields{
				"path": path,
			}).Errorf("Error retrieving disk usage stats: %v", err)
			return err
		}

		k.log.WithFields(logrus.Fields{
			"Path":        du.Path,
			"Device":      du.Device,
			"Mount Point": du.MountPoint,
			"Total (GB)":  fmt.Sprintf("%.2f", du.TotalGB),
			"Used (GB)":   fmt.Sprintf("%.2f", du.UsedGB),
			"Free (GB)":   fmt.Sprintf("%.2f", du.FreeGB),
			"Usage by DB": fmt.Sprintf("%.2f", du.StoreGB),
		}).Info("Disk Usage")
	}

	return nil
}
