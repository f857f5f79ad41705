package compat

import (
	"context"
	"fmt"

	"github.com/AlfredDev/novagate/credential"
)

// POWChallenge is handed in by the caller once obtained from
// DeepSeek's challenge endpoint (fetching the challenge is a transport
// concern, not this hook's).
type POWChallenge struct {
	Salt       string
	Difficulty int
}

// DeepSeekHook solves the account-mode proof-of-work challenge and
// attaches Camoufox fingerprint headers.
type DeepSeekHook struct {
	solver       *credential.POWSolver
	fingerprints *credential.FingerprintStore
	challenge    func(ctx context.Context) (POWChallenge, error)
	maxAttempts  int
}

// NewDeepSeekHook constructs the hook. challenge fetches a fresh
// proof-of-work challenge from DeepSeek; fingerprints resolves the
// Camoufox browser-fingerprint profile to merge into headers.
func NewDeepSeekHook(solver *credential.POWSolver, fingerprints *credential.FingerprintStore, challenge func(context.Context) (POWChallenge, error)) *DeepSeekHook {
	return &DeepSeekHook{solver: solver, fingerprints: fingerprints, challenge: challenge, maxAttempts: 2_000_000}
}

func (h *DeepSeekHook) Finalize(ctx *HookContext) error {
	return h.FinalizeContext(context.Background(), ctx)
}

// FinalizeContext is the context-aware entry point; Finalize exists to
// satisfy the FamilyHook interface for callers that don't need a
// specific context.
func (h *DeepSeekHook) FinalizeContext(c context.Context, ctx *HookContext) error {
	challenge, err := h.challenge(c)
	if err != nil {
		return fmt.Errorf("deepseek: fetch pow challenge: %w", err)
	}

	sig, _, err := h.solver.Solve(c, challenge.Salt, challenge.Difficulty, h.maxAttempts)
	if err != nil {
		return fmt.Errorf("deepseek: solve pow: %w", err)
	}
	ctx.Headers["X-DeepSeek-Pow-Response"] = sig

	if h.fingerprints != nil && ctx.Alias != "" {
		fp, err := h.fingerprints.Get(ctx.Alias)
		if err == nil {
			ctx.Headers["User-Agent"] = fp.UserAgent
			ctx.Headers["Sec-Ch-Ua"] = fp.SecChUa
			ctx.Headers["Sec-Ch-Ua-Platform"] = fp.SecChUaPlatform
			ctx.Headers["Accept-Language"] = fp.AcceptLanguage
			for k, v := range fp.ExtraHeaders {
				ctx.Headers[k] = v
			}
		}
	}

	return nil
}
