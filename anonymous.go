package stackauth

// AnonymousEvent is the authentication event for anonymous sign-up:
// no credential at all. The resolver gates it on the project's
// anonymous switch and always creates a fresh user with
// IsAnonymous=true, which a later sign-up upgrades in place.
func AnonymousEvent() AuthenticationEvent {
	return AuthenticationEvent{Method: MethodAnonymous}
}
