package utils

import (
	"github.com/denisbrodbeck/machineid"
)

// HWID is an app-scoped hash of the machine id, sent as the device id header.
var HWID = hardwareID()

func hardwareID() string {
	id, err := machineid.ProtectedID("syftupload")
	if err != nil || id == "" {
		return "unknown"
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return id
}
