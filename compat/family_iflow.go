package compat

import (
	"strconv"
	"strings"
	"time"

	"github.com/AlfredDev/novagate/credential"
)

// IFlowHook rewrites the websearch endpoint and attaches the HMAC request
// signature. It is request-side only; nothing on the response path
// calls credential.IsBusinessTokenExpired.
type IFlowHook struct {
	Now func() time.Time
}

// NewIFlowHook constructs the iFlow family hook.
func NewIFlowHook() *IFlowHook {
	return &IFlowHook{Now: time.Now}
}

func (h *IFlowHook) Finalize(ctx *HookContext) error {
	if strings.HasSuffix(ctx.Endpoint, "/chat/completions") && wantsWebSearch(ctx.Body) {
		ctx.Endpoint = strings.TrimSuffix(ctx.Endpoint, "/chat/completions") + "/chat/retrieve"
	}

	ts := h.Now().Unix()
	sig := credential.SignRequest(ctx.APIKey, ctx.UserAgent, ctx.SessionID, ts)
	ctx.Headers["X-IFlow-Signature"] = sig
	ctx.Headers["X-IFlow-Timestamp"] = strconv.FormatInt(ts, 10)
	return nil
}

// wantsWebSearch does a cheap substring check for a websearch tool
// request in the body, avoiding a full JSON decode in the hot path.
func wantsWebSearch(body []byte) bool {
	return strings.Contains(string(body), `"web_search"`)
}
