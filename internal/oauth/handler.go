package oauth

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

// CallbackHandler is the part of TokenManager the HTTP callback needs.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, code, state, errParam, errDesc string) *CallbackResult
}

// Handler serves the browser-facing OAuth redirect callback.
type Handler struct {
	manager CallbackHandler
}

// NewHandler creates a new OAuth HTTP handler.
func NewHandler(manager CallbackHandler) *Handler {
	return &Handler{manager: manager}
}

// ServeHTTP handles GET /oauth/callback.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := h.manager.HandleCallback(r.Context(),
		q.Get("code"), q.Get("state"), q.Get("error"), q.Get("error_description"))

	if !res.Success {
		renderErrorPage(w, res.Error)
		return
	}
	renderSuccessPage(w, res.PluginID)
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               background: #f5f6f8; display: flex; align-items: center; justify-content: center;
               min-height: 100vh; margin: 0; color: #222; }
        .card { background: #fff; border-radius: 12px; padding: 2.5rem; max-width: 460px;
                text-align: center; box-shadow: 0 2px 12px rgba(0,0,0,0.08); }
        h1 { font-size: 1.5rem; margin: 0 0 1rem; color: %s; }
        p { color: #555; line-height: 1.5; }
    </style>
</head>
<body>
    <div class="card">
        <h1>%s</h1>
        <p>%s</p>
        <p>You can close this window and return to the application.</p>
    </div>
</body>
</html>`

func renderSuccessPage(w http.ResponseWriter, pluginID string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	msg := fmt.Sprintf("%s is now connected.", html.EscapeString(pluginID))
	fmt.Fprintf(w, pageTemplate, "Connected", "#0a7f5a", "Connection successful", msg)
}

func renderErrorPage(w http.ResponseWriter, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	fmt.Fprintf(w, pageTemplate, "Connection failed", "#c0392b", "Connection failed", html.EscapeString(message))
}
