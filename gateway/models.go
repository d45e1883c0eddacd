package gateway

import "strings"

// DefaultModel is used when a turn does not name a model.
const DefaultModel = "gemini-2.5-flash-preview-05-20#thinking-enabled"

const thinkingSuffix = "#thinking-enabled"

const (
	BackendGemini     = "gemini"
	BackendOpenRouter = "openrouter"
)

// Model describes one entry of the model catalog.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Backend string `json:"backend"`
	// Reasoning is true when the model streams a separate reasoning channel.
	Reasoning bool `json:"reasoning"`
}

// Catalog lists the models offered to the operator.
var Catalog = []Model{
	{ID: "gemini-2.5-flash-preview-05-20#thinking-enabled", Name: "Gemini 2.5 Flash (thinking)", Backend: BackendGemini, Reasoning: true},
	{ID: "gemini-2.5-flash-preview-05-20", Name: "Gemini 2.5 Flash", Backend: BackendGemini},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Backend: BackendGemini},
	{ID: "deepseek/deepseek-chat-v3-0324:free", Name: "DeepSeek V3", Backend: BackendOpenRouter},
	{ID: "deepseek/deepseek-r1-0528:free", Name: "DeepSeek R1", Backend: BackendOpenRouter, Reasoning: true},
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (Model, bool) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// ModelIDs returns the catalog ids in display order.
func ModelIDs() []string {
	ids := make([]string, 0, len(Catalog))
	for _, m := range Catalog {
		ids = append(ids, m.ID)
	}
	return ids
}

// splitThinking strips the thinking suffix from a Gemini model id.
func splitThinking(id string) (base string, thinking bool) {
	if strings.HasSuffix(id, thinkingSuffix) {
		return strings.TrimSuffix(id, thinkingSuffix), true
	}
	return id, false
}

// supportsThinkingBudget reports whether the Gemini model accepts a thinking
// config at all.
func supportsThinkingBudget(base string) bool {
	return strings.HasPrefix(base, "gemini-2.5")
}

func isGeminiModel(id string) bool {
	return strings.HasPrefix(id, "gemini-")
}

// OpenRouter serves every id Gemini does not, including google/ ids.
func isOpenRouterModel(id string) bool {
	return strings.TrimSpace(id) != "" && !isGeminiModel(id)
}

func wantsReasoning(id string) bool {
	return strings.HasPrefix(id, "deepseek/deepseek-r1")
}
