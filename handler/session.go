package handler

import (
	"net/http"

	"github.com/AlfredDev/novagate/middleware"
	"github.com/AlfredDev/novagate/vrouter"
)

// sessionIDFor resolves the session identity used for sticky/disable
// directive scoping: an explicit client header wins, otherwise the
// presented API key stands in for the caller's session.
func sessionIDFor(r *http.Request) string {
	if id := r.Header.Get("X-NovaGate-Session-ID"); id != "" {
		return id
	}
	return middleware.GetAPIKey(r.Context())
}

// observeDirectives scans the last message's text for inline
// sticky/disable directive syntax and folds any found into the
// session store ahead of routing, per vrouter.ParseDirectives.
func observeDirectives(sessions *vrouter.SessionStore, sessionID string, lastMessageText string) {
	if sessions == nil || sessionID == "" || lastMessageText == "" {
		return
	}
	observed := vrouter.ParseDirectives(lastMessageText)
	if observed.Sticky == "" && len(observed.Disable) == 0 {
		return
	}
	sessions.Update(sessionID, observed)
}
