package ports

import (
	"rapport/models"
)

// ScenarioCatalog resolves scenario names to their definitions. Lookups are
// total: an unknown or empty name yields the default scenario, never an error.
type ScenarioCatalog interface {
	// Get returns the scenario for a name, or the default scenario when
	// the name is unknown
	Get(name string) models.Scenario

	// List returns all known scenarios
	List() []models.Scenario
}
