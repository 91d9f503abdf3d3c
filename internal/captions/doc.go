// Package captions turns WhisperX transcripts into broadcast caption
// artifacts and embeds them into the published recording.
//
// Two stage handlers live here. The embedder converts the transcript SRT
// into the configured caption format (Scenarist SCC or plain SRT), then
// re-muxes the recording with an embedded caption track through ffmpeg. The
// validator probes the finished output and sends the task back to the
// embedder when the container comes out short, empty, or caption-less.
package captions
