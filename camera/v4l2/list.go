package v4l2

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/blackjack/webcam"
)

// DeviceCap describes a pixel format and frame size a device can record.
type DeviceCap struct {
	Format string // GenICam name, or the driver description for formats GrabSingleFrame cannot decode.
	Size   string // E.g. "640x480", or a range for stepwise sizes.
	Usable bool   // Whether the format is RGB8, BGR8 or YUV422_8.
}

// DeviceInfo is a V4L2 video capture device.
type DeviceInfo struct {
	Path string
	Name string
	Caps []DeviceCap
}

// ListDevices lists the capture devices matching pattern, e.g. /dev/video*,
// in the order the Runtime enumerates them. Nodes that are not capture
// devices, such as metadata nodes, are skipped.
func ListDevices(pattern string) ([]DeviceInfo, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %v", err)
	}
	sort.Strings(paths)

	devices := []DeviceInfo{}
	for _, path := range paths {
		cam, err := webcam.Open(path)
		if err != nil {
			continue
		}
		name, err := cam.GetName()
		if err != nil {
			name = path
		}
		dev := DeviceInfo{Path: path, Name: name}
		for f, desc := range cam.GetSupportedFormats() {
			format, usable := formatName(f)
			if !usable {
				format = desc
			}
			for _, size := range cam.GetSupportedFrameSizes(f) {
				dev.Caps = append(dev.Caps, DeviceCap{format, size.GetString(), usable})
			}
		}
		cam.Close()
		sort.Slice(dev.Caps, func(i, j int) bool {
			a, b := dev.Caps[i], dev.Caps[j]
			if a.Usable != b.Usable {
				return a.Usable
			}
			if a.Format != b.Format {
				return a.Format < b.Format
			}
			return a.Size < b.Size
		})
		devices = append(devices, dev)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devices, nil
}
