package main

import (
	"fmt"
	"strings"

	"herald/audio"
	"herald/permission"
)

// selectDevice resolves the capture device: the named one when -device is
// given, otherwise the first enumerated device, otherwise the system default.
func selectDevice(ctx audio.Context, name string) (*audio.DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	if name != "" {
		for i, d := range devices {
			if strings.EqualFold(d.Name, name) || strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
				return &devices[i], nil
			}
		}
		return nil, fmt.Errorf("no capture device matching %q", name)
	}

	if len(devices) == 0 {
		return nil, nil // system default
	}
	return &devices[0], nil
}

// platformAuthorizer returns the capability backend for this build. Desktop
// targets have no runtime permission broker; microphone access is a system
// setting, so the gate sees it as granted.
func platformAuthorizer() permission.Authorizer {
	return permission.StaticAuthorizer{Fixed: permission.Authorized}
}
