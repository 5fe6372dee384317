package generator

// Tier groups models by price and capability.
type Tier string

const (
	TierCheap    Tier = "CHEAP"
	TierStandard Tier = "STANDARD"
	TierPremium  Tier = "PREMIUM"
)

type Task string

const (
	TaskStyleAnalysis Task = "style_analysis"
	TaskAutoResponse  Task = "auto_response"
)

var taskTiers = map[Task]Tier{
	TaskStyleAnalysis: TierPremium,
	TaskAutoResponse:  TierStandard,
}

// Model is an OpenRouter model id with its blended price per million tokens.
type Model struct {
	ID             string
	CostPerMillion float64
}

// Models maps each tier to a concrete model.
type Models map[Tier]Model

// DefaultModels returns the stock tier assignment.
func DefaultModels() Models {
	return Models{
		TierCheap:    {ID: "deepseek/deepseek-v3.2", CostPerMillion: 0.25},
		TierStandard: {ID: "openai/gpt-5.2", CostPerMillion: 1.25},
		TierPremium:  {ID: "anthropic/claude-sonnet-4.5", CostPerMillion: 3.0},
	}
}

func (m Models) forTask(t Task) Model {
	if model, ok := m[taskTiers[t]]; ok && model.ID != "" {
		return model
	}
	return DefaultModels()[taskTiers[t]]
}

// cost estimates the USD spend of a call.
func (m Model) cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens+completionTokens) / 1e6 * m.CostPerMillion
}
