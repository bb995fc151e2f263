// Package registry maps logical engine names to their network addresses.
// The mapping is populated once at process start and read-only thereafter.
package registry

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/civicmesh/orchestrator/pkg/api"
)

// Registry is the immutable engine key to base URL mapping
type Registry struct {
	endpoints map[api.EngineKey]string
}

// Engine keys for every registered downstream service
const (
	LoginRegister      api.EngineKey = "login_register"
	Identity           api.EngineKey = "identity"
	RawDataStore       api.EngineKey = "raw_data_store"
	Metadata           api.EngineKey = "metadata"
	ProcessedMetadata  api.EngineKey = "processed_metadata"
	VectorDatabase     api.EngineKey = "vector_database"
	NeuralNetwork      api.EngineKey = "neural_network"
	AnomalyDetection   api.EngineKey = "anomaly_detection"
	Chunks             api.EngineKey = "chunks"
	PolicyFetching     api.EngineKey = "policy_fetching"
	JSONUserInfo       api.EngineKey = "json_user_info"
	AnalyticsWarehouse api.EngineKey = "analytics_warehouse"
	DashboardBFF       api.EngineKey = "dashboard_bff"
	EligibilityRules   api.EngineKey = "eligibility_rules"
	DeadlineMonitoring api.EngineKey = "deadline_monitoring"
	Simulation         api.EngineKey = "simulation"
	GovDataSync        api.EngineKey = "gov_data_sync"
	TrustScoring       api.EngineKey = "trust_scoring"
	SpeechInterface    api.EngineKey = "speech_interface"
	DocUnderstanding   api.EngineKey = "doc_understanding"
)

// defaultEndpoints lists the local development address of every engine
var defaultEndpoints = map[api.EngineKey]string{
	LoginRegister:      "http://localhost:8001",
	Identity:           "http://localhost:8002",
	RawDataStore:       "http://localhost:8003",
	Metadata:           "http://localhost:8004",
	ProcessedMetadata:  "http://localhost:8005",
	VectorDatabase:     "http://localhost:8006",
	NeuralNetwork:      "http://localhost:8007",
	AnomalyDetection:   "http://localhost:8008",
	Chunks:             "http://localhost:8010",
	PolicyFetching:     "http://localhost:8011",
	JSONUserInfo:       "http://localhost:8012",
	AnalyticsWarehouse: "http://localhost:8013",
	DashboardBFF:       "http://localhost:8014",
	EligibilityRules:   "http://localhost:8015",
	DeadlineMonitoring: "http://localhost:8016",
	Simulation:         "http://localhost:8017",
	GovDataSync:        "http://localhost:8018",
	TrustScoring:       "http://localhost:8019",
	SpeechInterface:    "http://localhost:8020",
	DocUnderstanding:   "http://localhost:8021",
}

// New creates a registry from the default endpoints, applying any
// ENGINE_URL_<KEY> environment overrides
func New() *Registry {
	endpoints := maps.Clone(defaultEndpoints)
	for key := range endpoints {
		envKey := "ENGINE_URL_" + strings.ToUpper(string(key))
		if url := os.Getenv(envKey); url != "" {
			endpoints[key] = strings.TrimRight(url, "/")
		}
	}
	return &Registry{endpoints: endpoints}
}

// NewStatic creates a registry from an explicit endpoint map, used by tests
// to point engines at local fixtures
func NewStatic(endpoints map[api.EngineKey]string) *Registry {
	return &Registry{endpoints: maps.Clone(endpoints)}
}

// Lookup returns the base URL for an engine key
func (r *Registry) Lookup(key api.EngineKey) (string, bool) {
	url, ok := r.endpoints[key]
	return url, ok
}

// URL joins an engine's base address with an endpoint path
func (r *Registry) URL(key api.EngineKey, path string) (string, error) {
	base, ok := r.endpoints[key]
	if !ok {
		return "", fmt.Errorf("unknown engine key: %s", key)
	}
	return base + path, nil
}

// Keys returns all registered engine keys in sorted order
func (r *Registry) Keys() []api.EngineKey {
	return slices.Sorted(maps.Keys(r.endpoints))
}

// Len returns the number of registered engines
func (r *Registry) Len() int {
	return len(r.endpoints)
}
