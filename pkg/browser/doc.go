// Package browser provides the isolated execution context used by the
// extraction worker: a dedicated headless Chrome process per scrape, driven
// through chromedp.
//
// Opener implements worker.PageOpener. Each Open starts a new browser,
// installs the session cookie and returns a Tab, which implements the
// extractor.Page operations (navigate, snapshot HTML, read visible text,
// measure and scroll). Closing the Tab terminates the browser process.
package browser
