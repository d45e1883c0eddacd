package prompt

// Names of the built-in templates.
const (
	System          = "system"
	PlanTools       = "plan_tools"
	ExtractTerms    = "extract_terms"
	AnalyzePage     = "analyze_page"
	ResearchContext = "research_context"
)

const systemTemplate = `You are Shard, a concise and accurate assistant.
Some turns arrive with a "Research Context" block gathered from live sources
(encyclopedia articles, current weather, market quotes, arXiv preprints).
Prefer that data over prior knowledge when they disagree, cite the listed
sources by name when you rely on them, and say so plainly when the context
does not answer the question. When a lookup reported that nothing was found,
pass its hint on to the user.`

const planToolsTemplate = `Decide which live lookups would help answer the latest user turn.

Available tools:
- WIKIPEDIA_LOOKUP: encyclopedic facts about people, places, works, history, science.
- WEATHER_LOOKUP: current weather for a city, region or postal code. Query is the location only.
- FINANCIAL_DATA: latest stock quote. Query is a ticker symbol or company name.
- ARXIV_LOOKUP: recent research preprints. Query is a short topical phrase.

Rules:
- Use a tool only when fresh or factual data would materially improve the answer.
- Use each tool at most once; keep queries short and specific.
- Priority 1 is most important, 5 least.

Conversation:
{{.Conversation}}

Respond with JSON only, no prose:
{"tools":[{"tool_type":"WIKIPEDIA_LOOKUP","query":"...","reasoning":"...","priority":1}],"reasoning":"..."}
Respond with {"tools":[],"reasoning":"..."} when no tool is needed.`

const extractTermsTemplate = `List up to 3 encyclopedia article titles most likely to answer the question
below, best first. Respond with a JSON array of strings only.

Question: {{.Query}}`

const analyzePageTemplate = `You are researching this question: {{.Query}}
Articles already visited: {{.Visited}}

Article "{{.Title}}":
{{.Content}}

Decide the next step. Respond with JSON only, one of:
{"decision_type":"FOUND_ANSWER","summary":"facts from the article that answer the question","title":"{{.Title}}"}
{"decision_type":"NEXT_TERM","term":"another article title to read","reason":"..."}
{"decision_type":"STOP","reason":"..."}`

const researchContextTemplate = `Research Context:
{{range .Items}}
[{{.Kind}}] {{.Query}}
{{.Body}}
{{- range .Sources}}
Source: {{.Name}} <{{.URL}}>
{{- end}}
{{end}}
Given this research context, please answer the following user query:
{{.Question}}`

var builtins = map[string]string{
	System:          systemTemplate,
	PlanTools:       planToolsTemplate,
	ExtractTerms:    extractTermsTemplate,
	AnalyzePage:     analyzePageTemplate,
	ResearchContext: researchContextTemplate,
}

// NewDefaultManager returns a manager holding the built-in templates.
func NewDefaultManager() *Manager {
	m := NewManager()
	for name, content := range builtins {
		if err := m.RegisterString(name, content); err != nil {
			panic(err)
		}
	}
	return m
}

// MustRender renders a template that is known to exist and be well formed.
func (m *Manager) MustRender(name string, vars map[string]any) string {
	out, err := m.Render(name, vars)
	if err != nil {
		panic(err)
	}
	return out
}
