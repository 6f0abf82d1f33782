// Package browser drives a headless Chrome process to screenshot one page.
//
// Every Capture call owns exactly one browser process: it resolves an executable, launches it,
// opens a single tab at a fixed viewport, waits for the network to settle, takes a viewport
// screenshot and kills the process before returning, on success and on every failure path.
// Nothing is pooled or shared between calls.
//
// The pieces are split so each can be tested on its own:
//   - ExecutableResolver picks the binary (explicit override, managed binary, per-OS probes).
//   - Driver, Browser and Page are the automation capability; ChromedpDriver implements them.
//   - Manager sequences them and maps failures onto thumbnail error categories.
package browser
