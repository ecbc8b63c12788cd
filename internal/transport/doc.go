// Package transport is the HTTP and websocket client for the voice chat backend.
//
// A voice message is one multipart POST carrying the recording as audio_file
// together with session_id, context and voice_id. The backend reply is parsed
// leniently: transcript, reply text and reply audio are each optional, and
// the audio keeps whatever shape the backend used until payload.Decode runs.
// Failed requests are never retried and surface as *TransportError.
package transport
