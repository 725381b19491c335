package provider

import (
	"context"
	"strings"
)

// ModelLister is implemented by backends that can enumerate installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ModelStatus reports whether one configured model is installed.
type ModelStatus struct {
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

// HealthReport summarises backend reachability for the configured council.
type HealthReport struct {
	BackendAvailable bool          `json:"ollama_available"`
	AvailableModels  []string      `json:"available_models"`
	CouncilModels    []ModelStatus `json:"council_models"`
	ChairmanModel    ModelStatus   `json:"chairman_model"`
	Ready            bool          `json:"ready"`
}

// CheckAvailability queries lister and matches each configured model against
// the installed set. Hosted models (prefixed names) are assumed available.
func CheckAvailability(ctx context.Context, lister ModelLister, council []string, chairman string) HealthReport {
	installed, err := lister.ListModels(ctx)
	report := HealthReport{
		BackendAvailable: err == nil,
		AvailableModels:  installed,
	}
	if report.AvailableModels == nil {
		report.AvailableModels = []string{}
	}

	ready := report.BackendAvailable
	for _, m := range council {
		st := ModelStatus{Model: m, Available: modelInstalled(m, installed)}
		ready = ready && st.Available
		report.CouncilModels = append(report.CouncilModels, st)
	}
	report.ChairmanModel = ModelStatus{Model: chairman, Available: modelInstalled(chairman, installed)}
	report.Ready = ready && report.ChairmanModel.Available
	return report
}

// modelInstalled matches by exact name or by name without the ":tag" suffix,
// so "llama3" matches an installed "llama3:latest".
func modelInstalled(model string, installed []string) bool {
	if isHosted(model) {
		return true
	}
	base := stripTag(model)
	for _, avail := range installed {
		if model == avail || base == stripTag(avail) {
			return true
		}
	}
	return false
}

func stripTag(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[:i]
	}
	return name
}

func isHosted(model string) bool {
	return strings.HasPrefix(model, PrefixOpenAI) ||
		strings.HasPrefix(model, PrefixAnthropic) ||
		strings.HasPrefix(model, PrefixGoogle)
}
