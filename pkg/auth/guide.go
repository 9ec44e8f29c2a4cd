package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide prints how to copy the session cookie out of a logged-in
// browser
func WriteCookieGuide(w io.Writer, cookieName, domain string) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SESSION COOKIE")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "feedharvest reuses your browser session through the %q cookie.\n", cookieName)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  1. Log in to %s in your browser.\n", strings.TrimPrefix(domain, "."))
	fmt.Fprintln(w, "  2. Open Developer Tools (F12 or Cmd+Option+I).")
	fmt.Fprintln(w, "  3. Application (Chrome) or Storage (Firefox) > Cookies.")
	fmt.Fprintf(w, "  4. Copy the value of %q.\n", cookieName)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "You can paste the bare value, name=value, or a whole Cookie header.")
	fmt.Fprintln(w, "Treat the value like a password: it grants full access to the account.")
	fmt.Fprintln(w, rule)
}
