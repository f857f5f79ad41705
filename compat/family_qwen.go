package compat

// QwenHook applies DashScope's required headers and strips legacy
// Gemini-era metadata headers that leak through when a request was
// translated from a Gemini-dialect client.
type QwenHook struct{}

func NewQwenHook() *QwenHook { return &QwenHook{} }

func (h *QwenHook) Finalize(ctx *HookContext) error {
	ctx.Headers["X-DashScope-SSE"] = "enable"
	ctx.Headers["X-DashScope-CacheControl"] = "enable"
	if ctx.UserAgent != "" {
		ctx.Headers["User-Agent"] = ctx.UserAgent
	}

	delete(ctx.Headers, "x-goog-api-client")
	delete(ctx.Headers, "X-Goog-Api-Client")
	delete(ctx.Headers, "client-metadata")

	return nil
}
