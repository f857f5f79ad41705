package compat

// GLMHook applies GLM's minimal header overrides for its
// OpenAI-compatible endpoint.
type GLMHook struct{}

func NewGLMHook() *GLMHook { return &GLMHook{} }

func (h *GLMHook) Finalize(ctx *HookContext) error {
	ctx.Headers["X-GLM-Source"] = "novagate"
	return nil
}

// CodexHook overrides the User-Agent/originator headers Codex-mode
// clients expect.
type CodexHook struct {
	UserAgent string
}

func NewCodexHook(userAgent string) *CodexHook {
	return &CodexHook{UserAgent: userAgent}
}

func (h *CodexHook) Finalize(ctx *HookContext) error {
	if h.UserAgent != "" {
		ctx.Headers["User-Agent"] = h.UserAgent
	}
	ctx.Headers["originator"] = "codex-cli"
	return nil
}
