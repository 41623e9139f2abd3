package capture

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// Device identifies one capture device. ID is an opaque hex string stable for
// the lifetime of the device and accepted by [Config.MicDeviceID].
type Device struct {
	ID   string
	Name string
}

// ListDevices enumerates the available capture devices.
func ListDevices() ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, d := range infos {
		devices = append(devices, Device{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return devices, nil
}

// FormatDevices renders a device list one per line as "<id>: <name>".
// An empty list renders as an empty string.
func FormatDevices(devices []Device) string {
	var b strings.Builder
	for _, d := range devices {
		fmt.Fprintf(&b, "%s: %s\n", d.ID, d.Name)
	}
	return b.String()
}
