/*
Package sandbox describes and emulates the isolated execution host previews
run in.

# Capabilities

A preview frame is granted script execution and nothing else. Capabilities
renders that set as the iframe sandbox attribute and as a CSP sandbox
directive, and Validate rejects any set that grants more. Without
allow-same-origin the document gets an opaque origin, so it cannot read the
host's cookies or storage, and without allow-top-navigation it cannot
navigate the host page. The only channel out is window.parent.postMessage.

# Headless contexts

Context runs a synthesized document without a browser, for the CLI and for
tests. Each Context owns a fresh goja runtime and a small DOM built from the
document with goquery:

  - scripts run in document order; an uncaught exception in one script is
    reported through window.onerror and the next script still runs
  - unhandled promise rejections are reported through
    window.onunhandledrejection after each task
  - parent.postMessage serializes its data with JSON.stringify and hands it
    to the Context's Sink
  - localStorage, sessionStorage, indexedDB and document.cookie throw a
    SecurityError, as does navigating parent or top
  - fetch, XMLHttpRequest, require and process do not exist
  - timers run on a virtual clock that is drained after loading, up to a
    horizon and a task cap

Every call into a Context is bounded by a wall-clock timeout enforced with
goja's Interrupt. Author errors never surface as Go errors; only timeouts,
cancellation and use after Close do.

# Usage

	ctx, err := sandbox.New(sandbox.DefaultConfig(), func(data []byte) {
		msg, err := console.Decode(data)
		...
	})
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.Load(context.Background(), doc); err != nil {
		return err
	}
	_ = ctx.Dispatch(context.Background(), "#button", "click")
*/
package sandbox
