// Package whisperx invokes WhisperX through uvx to transcribe meeting audio.
//
// The transcribe stage extracts a mono 16kHz WAV from the source recording,
// hands it to WhisperX, and collects the SRT output the caption stage
// consumes. Model, device, and language selection come from the transcriber
// configuration section.
package whisperx
