//go:build !linux && !darwin

package alerts

type nopNotifier struct{}

func (nopNotifier) Notify(Alert) {}

// NewPlatformNotifier returns a notifier that drops every alert; desktop
// notifications are only wired for Linux and macOS.
func NewPlatformNotifier(bool) Notifier {
	return nopNotifier{}
}
