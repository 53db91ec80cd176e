package models

// Scenario describes a simulated client the counselor practices against
type Scenario struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"-"`
	OpeningLine  string `json:"opening_line"`
}
