// Package playback plays reply audio through one shared output.
//
// The controller keeps a single source at a time, owns at most one object URL
// and revokes it when it is replaced, when playback ends on it, or on Close.
// An output may refuse to start before the user has interacted with the
// client; the controller then waits on the GestureBus for the next click,
// keydown or touchstart and retries exactly once.
package playback
