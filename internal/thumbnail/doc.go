// Package thumbnail defines the core types of the render-and-transcode pipeline and the
// orchestrator that ties them together.
//
// A request flows one way:
//   - NormalizeURL repairs and validates the raw URL before anything expensive happens.
//   - A Capturer (internal/browser) launches one headless browser, loads the page, screenshots the
//     1920x1080 viewport and tears the process down.
//   - A Transformer (internal/imaging) resizes the frame with the contain policy and encodes it as
//     webp, jpeg or png.
//
// Every stage fails with a *Error carrying a Category; the HTTP layer maps categories to status
// codes. Pipeline keeps no state between calls, so one Pipeline serves any number of concurrent
// requests.
package thumbnail
