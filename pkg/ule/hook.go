package ule

import "context"

// HydrationHook adapts Engine to the hydration pipeline's narrow
// ULEHook seam (§4.7 step 9: "link via ULEHook").
type HydrationHook struct {
	engine *Engine
}

func NewHydrationHook(engine *Engine) *HydrationHook {
	return &HydrationHook{engine: engine}
}

func (h *HydrationHook) Run(ctx context.Context, workspaceID string, documentID int64, documentName, text string) (int, error) {
	result, err := h.engine.ProcessDocument(ctx, documentID, documentName, "", text, map[string]any{"workspace_id": workspaceID})
	if err != nil {
		return 0, err
	}
	return len(result.Entities), nil
}
