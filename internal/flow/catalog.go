package flow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/pkg/api"
)

// Catalog returns every flow definition this service exposes
func Catalog() []*Definition {
	return []*Definition{
		QueryFlow(),
		OnboardFlow(),
		EligibilityFlow(),
		IngestPolicyFlow(),
		VoiceQueryFlow(),
		SimulateFlow(),
	}
}

const unavailableReply = "I'm sorry, the service is temporarily " +
	"unavailable. Please try again."

// QueryFlow is the RAG query pipeline: intent classification, vector
// search, grounded generation routed by available context, then anomaly
// and trust scoring in parallel. Only generation is critical.
func QueryFlow() *Definition {
	return &Definition{
		Name: api.FlowQuery,
		Groups: []Group{
			Single(Step{
				Name:   "intent",
				Engine: registry.NeuralNetwork,
				Path:   "/ai/intent",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*QueryRequest)
					return map[string]any{
						"message": in.Message,
						"user_id": in.UserID,
					}, true
				},
				Collect: func(st *State, r gjson.Result) {
					st.Set("intent", strOr(r.Get("intent"), "general"))
					st.Set("confidence", r.Get("confidence").Float())
				},
			}),
			Single(Step{
				Name:   "vector_search",
				Engine: registry.VectorDatabase,
				Path:   "/vectors/search",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*QueryRequest)
					return map[string]any{
						"query": in.Message,
						"top_k": in.TopK,
					}, true
				},
				Collect: collectPassages,
			}),
			Routed(Branch{
				Select: selectByContext,
				Routes: map[string]Step{
					"rag": {
						Name:     "rag",
						Engine:   registry.NeuralNetwork,
						Path:     "/ai/rag",
						Critical: true,
						Timeout:  20 * time.Second,
						Build: func(st *State) (any, bool) {
							in := st.Input.(*QueryRequest)
							return map[string]any{
								"user_id":          in.UserID,
								"question":         in.Message,
								"context_passages": st.Strs("passages"),
							}, true
						},
						Collect: collectAnswer,
					},
				},
				Default: Step{
					Name:     "chat",
					Engine:   registry.NeuralNetwork,
					Path:     "/ai/chat",
					Critical: true,
					Timeout:  20 * time.Second,
					Build: func(st *State) (any, bool) {
						in := st.Input.(*QueryRequest)
						session := in.SessionID
						if session == "" {
							session = uuid.NewString()
						}
						return map[string]any{
							"user_id":    in.UserID,
							"message":    in.Message,
							"session_id": session,
						}, true
					},
					Collect: collectAnswer,
				},
			}),
			Parallel(
				Step{
					Name:   "anomaly",
					Engine: registry.AnomalyDetection,
					Path:   "/anomaly/check",
					Build: func(st *State) (any, bool) {
						in := st.Input.(*QueryRequest)
						return map[string]any{
							"user_id": in.UserID,
							"profile": map[string]any{
								"response_length": len(st.Str("response")),
							},
						}, true
					},
				},
				Step{
					Name:   "trust",
					Engine: registry.TrustScoring,
					Path:   "/trust/score",
					Build: func(st *State) (any, bool) {
						in := st.Input.(*QueryRequest)
						confidence := 0.5
						if c, ok := st.Var("confidence").(float64); ok && c > 0 {
							confidence = c
						}
						return map[string]any{
							"user_id":          in.UserID,
							"data_sources":     vectorIDs(st, 3),
							"model_confidence": confidence,
						}, true
					},
				},
			),
		},
		Finish: func(st *State) map[string]any {
			return map[string]any{
				"response":          st.Str("response"),
				"intent":            st.Str("intent"),
				"intent_confidence": st.Var("confidence"),
				"sources":           querySources(st, 5),
				"anomaly":           asMap(st.Out("anomaly")),
				"trust":             asMap(st.Out("trust")),
			}
		},
		Audit: func(st *State, _ api.FlowResult) (
			api.EventType, string, map[string]any,
		) {
			in := st.Input.(*QueryRequest)
			return api.EventRAGQuery, in.UserID, map[string]any{
				"query":         in.Message,
				"intent":        st.Str("intent"),
				"sources_count": len(st.Strs("passages")),
			}
		},
	}
}

// OnboardFlow is the deterministic onboarding pipeline. Only registration
// is critical; everything downstream degrades individually.
func OnboardFlow() *Definition {
	return &Definition{
		Name: api.FlowOnboard,
		Groups: []Group{
			Single(Step{
				Name:     "register",
				Engine:   registry.LoginRegister,
				Path:     "/auth/register",
				Critical: true,
				Build: func(st *State) (any, bool) {
					in := st.Input.(*OnboardRequest)
					return map[string]any{
						"phone":                   in.Phone,
						"password":                in.Password,
						"name":                    in.Name,
						"state":                   in.State,
						"district":                in.District,
						"language_preference":     in.LanguagePreference,
						"consent_data_processing": in.ConsentDataProcessing,
					}, true
				},
				Collect: func(st *State, r gjson.Result) {
					st.Set("user_id", r.Get("user_id").String())
					st.Set("access_token", r.Get("access_token").String())
					st.Set("refresh_token", r.Get("refresh_token").String())
				},
			}),
			Single(Step{
				Name:   "identity",
				Engine: registry.Identity,
				Path:   "/identity/create",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*OnboardRequest)
					return map[string]any{
						"user_id": st.Str("user_id"),
						"name":    in.Name,
						"phone":   in.Phone,
						"dob":     in.DateOfBirth,
					}, true
				},
				Collect: func(st *State, r gjson.Result) {
					st.Set("identity_token", r.Get("identity_token").String())
				},
			}),
			Single(Step{
				Name:   "metadata",
				Engine: registry.Metadata,
				Path:   "/metadata/process",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*OnboardRequest)
					return profileFields(st.Str("user_id"), in), true
				},
			}),
			Single(Step{
				Name:   "processed_store",
				Engine: registry.ProcessedMetadata,
				Path:   "/processed-metadata/store",
				Build: func(st *State) (any, bool) {
					return map[string]any{
						"user_id":            st.Str("user_id"),
						"processed_data":     normalizedProfile(st),
						"derived_attributes": asMap(st.Out("metadata").Get("derived_attributes")),
					}, true
				},
			}),
			Parallel(
				Step{
					Name:   "eligibility",
					Engine: registry.EligibilityRules,
					Path:   "/eligibility/check",
					Build: func(st *State) (any, bool) {
						return map[string]any{
							"user_id": st.Str("user_id"),
							"profile": normalizedProfile(st),
						}, true
					},
				},
				Step{
					Name:   "deadlines",
					Engine: registry.DeadlineMonitoring,
					Path:   "/deadlines/check",
					Build: func(st *State) (any, bool) {
						in := st.Input.(*OnboardRequest)
						return map[string]any{
							"user_id": st.Str("user_id"),
							"state":   in.State,
						}, true
					},
				},
			),
			Single(Step{
				Name:   "profile",
				Engine: registry.JSONUserInfo,
				Path:   "/profile/generate",
				Build: func(st *State) (any, bool) {
					return map[string]any{
						"user_id":     st.Str("user_id"),
						"metadata":    asMap(st.Out("metadata")),
						"eligibility": asMap(st.Out("eligibility")),
						"deadlines":   asMap(st.Out("deadlines")),
					}, true
				},
			}),
		},
		Finish: func(st *State) map[string]any {
			data := map[string]any{
				"user_id":        st.Str("user_id"),
				"access_token":   st.Str("access_token"),
				"refresh_token":  st.Str("refresh_token"),
				"identity_token": st.Str("identity_token"),
			}
			if elig := st.Out("eligibility"); st.Has("eligibility") {
				data["eligibility_summary"] = map[string]any{
					"eligible":      elig.Get("eligible").Int(),
					"partial":       elig.Get("partial").Int(),
					"total_checked": elig.Get("total_schemes_checked").Int(),
				}
			}
			if st.Has("deadlines") {
				data["upcoming_deadlines"] =
					st.Out("deadlines").Get("total_deadlines").Int()
			}
			if st.Has("profile") {
				data["profile_completeness"] =
					st.Out("profile").Get("completeness").Value()
			}
			return data
		},
		Audit: func(st *State, res api.FlowResult) (
			api.EventType, string, map[string]any,
		) {
			in := st.Input.(*OnboardRequest)
			return api.EventUserOnboarded, st.Str("user_id"), map[string]any{
				"phone":           maskPhone(in.Phone),
				"steps_completed": completedCount(res),
				"degraded":        res.Degraded,
			}
		},
	}
}

// EligibilityFlow runs a deterministic eligibility check, optionally
// followed by an AI-generated explanation of the verdict
func EligibilityFlow() *Definition {
	return &Definition{
		Name: api.FlowCheckEligibility,
		Groups: []Group{
			Single(Step{
				Name:     "eligibility",
				Engine:   registry.EligibilityRules,
				Path:     "/eligibility/check",
				Critical: true,
				Build: func(st *State) (any, bool) {
					in := st.Input.(*EligibilityRequest)
					return map[string]any{
						"user_id":    in.UserID,
						"profile":    in.Profile,
						"scheme_ids": in.SchemeIDs,
					}, true
				},
			}),
			Single(Step{
				Name:    "explanation",
				Engine:  registry.NeuralNetwork,
				Path:    "/ai/summarize",
				Timeout: 15 * time.Second,
				Build: func(st *State) (any, bool) {
					in := st.Input.(*EligibilityRequest)
					if !in.explain() {
						return nil, false
					}
					text := fmt.Sprintf(
						"Eligibility results for user %s: %s",
						in.UserID,
						st.Out("eligibility").Get("results").Raw,
					)
					return map[string]any{
						"text":       text,
						"max_length": 300,
					}, true
				},
				Collect: func(st *State, r gjson.Result) {
					st.Set("explanation", r.Get("summary").String())
				},
			}),
		},
		Finish: func(st *State) map[string]any {
			data := asMap(st.Out("eligibility"))
			data["explanation"] = st.Var("explanation")
			return data
		},
		Audit: func(st *State, _ api.FlowResult) (
			api.EventType, string, map[string]any,
		) {
			in := st.Input.(*EligibilityRequest)
			elig := st.Out("eligibility")
			return api.EventEligibilityChecked, in.UserID, map[string]any{
				"eligible":      elig.Get("eligible").Int(),
				"partial":       elig.Get("partial").Int(),
				"total_checked": elig.Get("total_schemes_checked").Int(),
			}
		},
	}
}

// IngestPolicyFlow is the policy ingestion pipeline. Fetch is critical;
// a chunking or embedding failure degrades the ingestion and downstream
// steps skip rather than upsert inconsistent vectors.
func IngestPolicyFlow() *Definition {
	return &Definition{
		Name: api.FlowIngestPolicy,
		Groups: []Group{
			Single(Step{
				Name:     "fetch",
				Engine:   registry.PolicyFetching,
				Path:     "/schemes/fetch",
				Critical: true,
				Timeout:  30 * time.Second,
				Build: func(st *State) (any, bool) {
					in := st.Input.(*IngestPolicyRequest)
					return map[string]any{
						"source_url":  in.SourceURL,
						"source_type": in.SourceType,
					}, true
				},
				Check: func(r gjson.Result) error {
					if firstStr(r, "text", "content") == "" {
						return errors.New("fetched document has no text content")
					}
					return nil
				},
				Collect: func(st *State, r gjson.Result) {
					in := st.Input.(*IngestPolicyRequest)
					docID := firstStr(r, "document_id", "id")
					if docID == "" {
						docID = uuid.NewString()
					}
					policyID := firstStr(r, "policy_id", "scheme_id")
					if policyID == "" {
						policyID = docID
					}
					st.Set("document_id", docID)
					st.Set("policy_id", policyID)
					st.Set("text", firstStr(r, "text", "content"))
					st.Set("title", strOr(r.Get("title"), in.SourceURL))
				},
			}),
			Single(Step{
				Name:    "parse",
				Engine:  registry.DocUnderstanding,
				Path:    "/documents/parse",
				Timeout: 25 * time.Second,
				Build: func(st *State) (any, bool) {
					return map[string]any{
						"document_id": st.Str("document_id"),
						"policy_id":   st.Str("policy_id"),
						"title":       st.Str("title"),
						"text":        st.Str("text"),
					}, true
				},
			}),
			Single(Step{
				Name:   "chunk",
				Engine: registry.Chunks,
				Path:   "/chunks/create",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*IngestPolicyRequest)
					return map[string]any{
						"document_id": st.Str("document_id"),
						"policy_id":   st.Str("policy_id"),
						"text":        st.Str("text"),
						"strategy":    "sentence",
						"chunk_size":  512,
						"overlap":     64,
						"metadata": map[string]any{
							"title":      st.Str("title"),
							"source_url": in.SourceURL,
						},
					}, true
				},
				Check: func(r gjson.Result) error {
					if len(r.Get("chunks").Array()) == 0 {
						return errors.New("chunking produced no chunks")
					}
					return nil
				},
			}),
			Single(Step{
				Name:    "embed",
				Engine:  registry.NeuralNetwork,
				Path:    "/ai/embeddings",
				Timeout: 20 * time.Second,
				Build: func(st *State) (any, bool) {
					chunks := st.Out("chunk").Get("chunks").Array()
					if len(chunks) == 0 {
						return nil, false
					}
					texts := make([]string, len(chunks))
					for i, c := range chunks {
						texts[i] = c.Get("content").String()
					}
					return map[string]any{"texts": texts}, true
				},
				Check: func(r gjson.Result) error {
					if len(r.Get("embeddings").Array()) == 0 {
						return errors.New("no embeddings returned")
					}
					return nil
				},
			}),
			Single(Step{
				Name:   "upsert",
				Engine: registry.VectorDatabase,
				Path:   "/vectors/upsert/batch",
				Build:  buildUpsert,
				Collect: func(st *State, r gjson.Result) {
					st.Set("vectors_upserted", r.Get("inserted").Int())
				},
			}),
			Single(Step{
				Name:   "tag_metadata",
				Engine: registry.Metadata,
				Path:   "/metadata/process",
				Build: func(st *State) (any, bool) {
					parsed := st.Out("parse")
					return map[string]any{
						"user_id":    "policy:" + st.Str("policy_id"),
						"name":       st.Str("title"),
						"state":      parsed.Get("state").Value(),
						"occupation": parsed.Get("scheme_type").Value(),
					}, true
				},
			}),
		},
		Finish: func(st *State) map[string]any {
			upserted, _ := st.Var("vectors_upserted").(int64)
			return map[string]any{
				"document_id":      st.Str("document_id"),
				"policy_id":        st.Str("policy_id"),
				"title":            st.Str("title"),
				"chunks_created":   len(st.Out("chunk").Get("chunks").Array()),
				"vectors_upserted": upserted,
				"parsed_fields":    parsedFields(st.Out("parse")),
			}
		},
		Audit: func(st *State, res api.FlowResult) (
			api.EventType, string, map[string]any,
		) {
			upserted, _ := st.Var("vectors_upserted").(int64)
			return api.EventPolicyIngested, "system", map[string]any{
				"document_id":      st.Str("document_id"),
				"policy_id":        st.Str("policy_id"),
				"title":            st.Str("title"),
				"chunks_created":   len(st.Out("chunk").Get("chunks").Array()),
				"vectors_upserted": upserted,
				"degraded":         res.Degraded,
			}
		},
	}
}

// VoiceQueryFlow routes a transcribed utterance by classified intent,
// translates the reply when the user's language is not English, and
// synthesizes speech. Every step degrades rather than aborts; a failed
// route falls back to an apology so speech synthesis still runs.
func VoiceQueryFlow() *Definition {
	return &Definition{
		Name: api.FlowVoiceQuery,
		Groups: []Group{
			Single(Step{
				Name:   "intent",
				Engine: registry.NeuralNetwork,
				Path:   "/ai/intent",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*VoiceQueryRequest)
					return map[string]any{
						"message": in.Text,
						"user_id": in.UserID,
					}, true
				},
				Collect: func(st *State, r gjson.Result) {
					intent := strings.ToLower(strOr(r.Get("intent"), "general"))
					st.Set("intent", intent)
					st.Set("route", routeForIntent(intent))
				},
			}),
			Routed(Branch{
				Select: func(st *State) string {
					return st.Str("route")
				},
				Routes: map[string]Step{
					"eligibility": {
						Name:   "eligibility",
						Engine: registry.EligibilityRules,
						Path:   "/eligibility/check",
						Build: func(st *State) (any, bool) {
							in := st.Input.(*VoiceQueryRequest)
							return map[string]any{
								"user_id": in.UserID,
								"profile": map[string]any{},
							}, true
						},
						Collect: func(st *State, r gjson.Result) {
							st.Set("response", fmt.Sprintf(
								"You are eligible for %d schemes. "+
									"Total schemes checked: %d.",
								r.Get("eligible").Int(),
								r.Get("total_schemes_checked").Int()))
						},
					},
					"scheme": {
						Name:   "scheme_search",
						Engine: registry.VectorDatabase,
						Path:   "/vectors/search",
						Build: func(st *State) (any, bool) {
							in := st.Input.(*VoiceQueryRequest)
							return map[string]any{
								"query": in.Text,
								"top_k": 3,
							}, true
						},
						Collect: collectPassages,
					},
					"deadline": {
						Name:   "deadline",
						Engine: registry.DeadlineMonitoring,
						Path:   "/deadlines/check",
						Build: func(st *State) (any, bool) {
							in := st.Input.(*VoiceQueryRequest)
							return map[string]any{
								"user_id": in.UserID,
							}, true
						},
						Collect: func(st *State, r gjson.Result) {
							st.Set("response", fmt.Sprintf(
								"You have %d upcoming deadlines. "+
									"%d are critical.",
								r.Get("total_deadlines").Int(),
								r.Get("critical").Int()))
						},
					},
				},
				Default: Step{
					Name:    "chat",
					Engine:  registry.NeuralNetwork,
					Path:    "/ai/chat",
					Timeout: 20 * time.Second,
					Build: func(st *State) (any, bool) {
						in := st.Input.(*VoiceQueryRequest)
						return map[string]any{
							"user_id": in.UserID,
							"message": in.Text,
						}, true
					},
					Collect: collectAnswer,
				},
			}),
			Single(Step{
				Name:    "scheme_answer",
				Engine:  registry.NeuralNetwork,
				Timeout: 20 * time.Second,
				PathFn: func(st *State) string {
					if len(st.Strs("passages")) > 0 {
						return "/ai/rag"
					}
					return "/ai/chat"
				},
				Build: func(st *State) (any, bool) {
					if st.Str("route") != "scheme" {
						return nil, false
					}
					in := st.Input.(*VoiceQueryRequest)
					if passages := st.Strs("passages"); len(passages) > 0 {
						return map[string]any{
							"user_id":          in.UserID,
							"question":         in.Text,
							"context_passages": passages,
						}, true
					}
					return map[string]any{
						"user_id": in.UserID,
						"message": in.Text,
					}, true
				},
				Collect: collectAnswer,
			}),
			Single(Step{
				Name:   "translate",
				Engine: registry.NeuralNetwork,
				Path:   "/ai/translate",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*VoiceQueryRequest)
					if in.Language == "en" || in.Language == "english" {
						return nil, false
					}
					text := st.Str("response")
					if text == "" {
						return nil, false
					}
					return map[string]any{
						"text":        text,
						"source_lang": "en",
						"target_lang": in.Language,
					}, true
				},
				Collect: func(st *State, r gjson.Result) {
					if t := r.Get("translated").String(); t != "" {
						st.Set("response", t)
					}
				},
			}),
			Single(Step{
				Name:   "tts",
				Engine: registry.SpeechInterface,
				Path:   "/speech/tts",
				Build: func(st *State) (any, bool) {
					in := st.Input.(*VoiceQueryRequest)
					return map[string]any{
						"text":     replyOrApology(st),
						"language": in.Language,
						"user_id":  in.UserID,
					}, true
				},
			}),
		},
		Finish: func(st *State) map[string]any {
			in := st.Input.(*VoiceQueryRequest)
			tts := st.Out("tts")
			return map[string]any{
				"query":            in.Text,
				"response":         replyOrApology(st),
				"intent":           strOrDefault(st.Str("intent"), "general"),
				"language":         in.Language,
				"audio_session_id": tts.Get("session_id").Value(),
				"audio_available":  tts.Get("audio_available").Bool(),
			}
		},
		Audit: func(st *State, _ api.FlowResult) (
			api.EventType, string, map[string]any,
		) {
			in := st.Input.(*VoiceQueryRequest)
			return api.EventVoiceQuery, in.UserID, map[string]any{
				"query":    in.Text,
				"language": in.Language,
				"intent":   strOrDefault(st.Str("intent"), "general"),
			}
		},
	}
}

// SimulateFlow runs a deterministic what-if simulation, optionally
// followed by an AI-generated explanation
func SimulateFlow() *Definition {
	return &Definition{
		Name: api.FlowSimulate,
		Groups: []Group{
			Single(Step{
				Name:     "simulate",
				Engine:   registry.Simulation,
				Path:     "/simulate/what-if",
				Critical: true,
				Build: func(st *State) (any, bool) {
					in := st.Input.(*SimulateRequest)
					return map[string]any{
						"user_id":         in.UserID,
						"current_profile": in.CurrentProfile,
						"changes":         in.Changes,
					}, true
				},
			}),
			Single(Step{
				Name:    "explanation",
				Engine:  registry.NeuralNetwork,
				Path:    "/ai/summarize",
				Timeout: 15 * time.Second,
				Build: func(st *State) (any, bool) {
					in := st.Input.(*SimulateRequest)
					if !in.explain() {
						return nil, false
					}
					sim := st.Out("simulate")
					text := fmt.Sprintf(
						"Simulation results for user %s: Changes applied: %v. "+
							"Before: %s. After: %s. Delta: %s.",
						in.UserID, in.Changes,
						sim.Get("before").Raw,
						sim.Get("after").Raw,
						sim.Get("delta").Raw,
					)
					return map[string]any{
						"text":       text,
						"max_length": 300,
					}, true
				},
				Collect: func(st *State, r gjson.Result) {
					st.Set("explanation", r.Get("summary").String())
				},
			}),
		},
		Finish: func(st *State) map[string]any {
			data := asMap(st.Out("simulate"))
			data["explanation"] = st.Var("explanation")
			return data
		},
		Audit: func(st *State, _ api.FlowResult) (
			api.EventType, string, map[string]any,
		) {
			in := st.Input.(*SimulateRequest)
			return api.EventSimulationRun, in.UserID, map[string]any{
				"changes": in.Changes,
			}
		},
	}
}

// collectPassages extracts non-empty result contents for grounding
func collectPassages(st *State, r gjson.Result) {
	var passages []string
	for _, res := range r.Get("results").Array() {
		if content := res.Get("content").String(); content != "" {
			passages = append(passages, content)
		}
	}
	st.Set("passages", passages)
}

// collectAnswer accepts either a rag answer or a chat response field
func collectAnswer(st *State, r gjson.Result) {
	st.Set("response", firstStr(r, "answer", "response"))
}

func selectByContext(st *State) string {
	if len(st.Strs("passages")) > 0 {
		return "rag"
	}
	return "chat"
}

func routeForIntent(intent string) string {
	switch intent {
	case "eligibility", "eligibility_check":
		return "eligibility"
	case "scheme_query", "scheme_info", "policy":
		return "scheme"
	case "deadline":
		return "deadline"
	default:
		return "chat"
	}
}

func buildUpsert(st *State) (any, bool) {
	in := st.Input.(*IngestPolicyRequest)
	chunks := st.Out("chunk").Get("chunks").Array()
	embeddings := st.Out("embed").Get("embeddings").Array()
	if len(embeddings) == 0 || len(embeddings) != len(chunks) {
		return nil, false
	}

	docID := st.Str("document_id")
	vectors := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		chunkID := chunk.Get("chunk_id").String()
		if chunkID == "" {
			chunkID = fmt.Sprintf("%s_%d", docID, i)
		}
		vectors[i] = map[string]any{
			"chunk_id":    chunkID,
			"document_id": docID,
			"policy_id":   st.Str("policy_id"),
			"content":     chunk.Get("content").String(),
			"embedding":   embeddings[i].Value(),
			"namespace":   "policies",
			"metadata": map[string]any{
				"title":       st.Str("title"),
				"chunk_index": i,
				"source_url":  in.SourceURL,
			},
		}
	}
	return map[string]any{"vectors": vectors}, true
}

func normalizedProfile(st *State) map[string]any {
	meta := st.Out("metadata")
	if normalized := meta.Get("normalized"); normalized.Exists() {
		return asMap(normalized)
	}
	return asMap(meta)
}

func profileFields(userID string, in *OnboardRequest) map[string]any {
	fields := map[string]any{
		"user_id":             userID,
		"name":                in.Name,
		"phone":               in.Phone,
		"language_preference": in.LanguagePreference,
	}
	setField(fields, "state", in.State)
	setField(fields, "district", in.District)
	setField(fields, "date_of_birth", in.DateOfBirth)
	setField(fields, "gender", in.Gender)
	setField(fields, "pincode", in.Pincode)
	setField(fields, "annual_income", in.AnnualIncome)
	setField(fields, "occupation", in.Occupation)
	setField(fields, "category", in.Category)
	setField(fields, "religion", in.Religion)
	setField(fields, "marital_status", in.MaritalStatus)
	setField(fields, "education_level", in.EducationLevel)
	setField(fields, "family_size", in.FamilySize)
	setField(fields, "is_bpl", in.IsBPL)
	setField(fields, "is_rural", in.IsRural)
	setField(fields, "disability_status", in.DisabilityStatus)
	setField(fields, "land_holding_acres", in.LandHoldingAcres)
	return fields
}

func setField[T any](fields map[string]any, key string, v *T) {
	if v != nil {
		fields[key] = *v
	}
}

func querySources(st *State, limit int) []map[string]any {
	results := st.Out("vector_search").Get("results").Array()
	if len(results) > limit {
		results = results[:limit]
	}
	sources := make([]map[string]any, len(results))
	for i, r := range results {
		content := r.Get("content").String()
		if runes := []rune(content); len(runes) > 200 {
			content = string(runes[:200])
		}
		sources[i] = map[string]any{
			"id":      r.Get("vector_id").Value(),
			"score":   r.Get("score").Value(),
			"content": content,
		}
	}
	return sources
}

func vectorIDs(st *State, limit int) []string {
	results := st.Out("vector_search").Get("results").Array()
	if len(results) > limit {
		results = results[:limit]
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Get("vector_id").String()
	}
	return ids
}

func parsedFields(parsed gjson.Result) []string {
	var fields []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		fields = append(fields, key.String())
		return true
	})
	return fields
}

func completedCount(res api.FlowResult) int {
	count := 0
	for _, rec := range res.Completed {
		if rec.Status == api.StepCompleted {
			count++
		}
	}
	return count
}

func replyOrApology(st *State) string {
	return strOrDefault(st.Str("response"), unavailableReply)
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return "****"
	}
	return phone[:4] + "****"
}

func asMap(r gjson.Result) map[string]any {
	if m, ok := r.Value().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// firstStr returns the first non-empty string among the named fields
func firstStr(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := r.Get(k).String(); s != "" {
			return s
		}
	}
	return ""
}

func strOr(r gjson.Result, fallback string) string {
	return strOrDefault(r.String(), fallback)
}

func strOrDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
