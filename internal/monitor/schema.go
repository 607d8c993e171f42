package monitor

import "fmt"

// StatusKey returns the Redis hash holding the latest dashboard view.
// Pattern: olfacto:{rig}:status
func StatusKey(rig string) string {
	return fmt.Sprintf("olfacto:%s:status", rig)
}

// EventsChannel returns the Pub/Sub channel carrying dashboard events.
// Pattern: olfacto:{rig}:events
func EventsChannel(rig string) string {
	return fmt.Sprintf("olfacto:%s:events", rig)
}

// ControlChannel returns the Pub/Sub channel the rig listens on for
// pause/resume commands.
// Pattern: olfacto:{rig}:control
func ControlChannel(rig string) string {
	return fmt.Sprintf("olfacto:%s:control", rig)
}
