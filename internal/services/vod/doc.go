// Package vod talks to the video-on-demand platform that serves published
// meeting recordings.
//
// The platform ingests files from the shared archive mount, so publishing is
// a metadata handoff: the client submits the archived file path plus meeting
// metadata and receives the platform's video id back. Responses are mapped
// onto the shared error markers (auth, not-found, transient) so the breaker
// and the pipeline can classify failures without knowing HTTP.
package vod
