package media

// Source holds the local camera and screen-share streams. It is owned by
// the session loop and not safe for concurrent use.
type Source struct {
	camera *Stream
	screen *Stream
}

func (s *Source) Camera() *Stream { return s.camera }
func (s *Source) Screen() *Stream { return s.screen }

// ReplaceCamera adopts next as the camera stream. Every track of the
// previous stream is stopped before next is adopted. It reports whether
// the stream reference changed.
func (s *Source) ReplaceCamera(next *Stream) bool {
	if next == s.camera {
		return false
	}
	s.camera.Stop()
	s.camera = next
	return true
}

// SetScreen records next as the screen-share stream and reports whether
// the reference changed. The previous stream is not stopped: a screen
// capture ends on its own or through StopScreen.
func (s *Source) SetScreen(next *Stream) bool {
	if next == s.screen {
		return false
	}
	s.screen = next
	return true
}

// StopScreen stops and forgets the screen-share stream.
func (s *Source) StopScreen() *Stream {
	prev := s.screen
	prev.Stop()
	s.screen = nil
	return prev
}

// StopAll stops both streams and clears them.
func (s *Source) StopAll() {
	s.camera.Stop()
	s.screen.Stop()
	s.camera = nil
	s.screen = nil
}
