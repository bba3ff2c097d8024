package types

// WSDevicesResponse is sent in response to devices/list.
type WSDevicesResponse struct {
	Type    string        `json:"type"` // "devices"
	Devices []InputDevice `json:"devices"`
}
