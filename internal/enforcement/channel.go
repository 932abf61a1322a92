package enforcement

import "context"

type CommandType string

const (
	CommandEngineStop   CommandType = "ENGINE_STOP"
	CommandEngineResume CommandType = "ENGINE_RESUME"
)

// DeviceCommandChannel is the external device network. Send returns an opaque
// command id the backend assigns; Confirm polls whether the device reported
// the command applied. Any concrete transport (vendor REST API, scraped
// session, SDK) satisfies this shape.
type DeviceCommandChannel interface {
	Send(ctx context.Context, deviceID string, command CommandType) (commandID string, err error)
	Confirm(ctx context.Context, commandID string) (bool, error)
}
