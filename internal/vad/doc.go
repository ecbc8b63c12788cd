// Package vad detects the end of an utterance in microphone audio so that a
// hands-free recording can stop on its own.
package vad
