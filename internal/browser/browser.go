// Package browser drives a headless Chrome tab for the crawler. Element
// lookups are always optional from the caller's point of view: a missing
// node is reported as an error or an empty result, never as a panic.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Launcher opens browser sessions.
type Launcher interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a single browser tab. A Session is not safe for concurrent use;
// each query crawl owns exactly one.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until sel is visible or timeout elapses.
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	Click(ctx context.Context, sel string) error
	// Eval runs a JavaScript expression and decodes its result into out.
	Eval(ctx context.Context, expr string, out any) error
	// Attrs returns attr of every node matching sel, in document order.
	// Nodes without the attribute are skipped.
	Attrs(ctx context.Context, sel, attr string) ([]string, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// AttrsExpr returns an expression yielding attr of every node matching sel.
// For href the resolved property is used so relative links come back absolute.
func AttrsExpr(sel, attr string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))
  .map(e => %s === "href" && e.href ? e.href : e.getAttribute(%s))
  .filter(v => v)`, jsString(sel), jsString(attr), jsString(attr))
}

// ScrollExpr returns an expression that scrolls the element matching sel to
// its end and yields the element's scrollHeight, or -1 when it is absent.
func ScrollExpr(sel string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return -1;
  el.scrollTop = el.scrollHeight;
  return el.scrollHeight;
})()`, jsString(sel))
}
