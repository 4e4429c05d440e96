package playback

import "time"

// Player is the controllable media transport. Implementations wrap whatever
// actually decodes and renders; this package only issues commands against it.
type Player interface {
	Position() (time.Duration, error)
	Playing() (bool, error)
	SetPosition(pos time.Duration) error
	Play() error
	Pause() error
}
