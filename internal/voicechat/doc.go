// Package voicechat runs a voice conversation: it records a message, sends
// it to the backend in a single request, appends the transcript and the AI
// reply to the in-memory history and plays the reply audio.
package voicechat
