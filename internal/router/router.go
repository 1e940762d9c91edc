// Package router implements the control plane's Router / Policy Engine: a
// pure, synchronous function from request inputs to a RoutingDecision. It
// performs no I/O and is fully deterministic given the same Config
// snapshot, satisfying the "routing purity" testable property.
package router

import (
	"strings"

	v1 "github.com/kandev/dispatchd/pkg/api/v1"
	"github.com/kandev/dispatchd/pkg/modelref"
)

const policyVersion = "v1"

var deepIntentKeywords = []string{
	"refactor", "architecture", "distributed", "migration", "multi-step",
	"incident", "root cause", "benchmark", "performance", "security",
	"long-running",
}

var quickIntentKeywords = []string{
	"typo", "rename", "quick", "small", "minor", "lint", "format",
	"readme", "one line",
}

// planningAgentTypes add score because they orchestrate further work
// rather than doing a single mechanical edit.
var planningAgentTypes = map[string]bool{
	"plan":         true,
	"planning":     true,
	"orchestrator": true,
	"orchestrate":  true,
}

// Config is the process-wide, externally-loaded policy configuration the
// Router consults. It is treated as an immutable snapshot for the
// duration of a single Route call.
type Config struct {
	QuickMaxScore int // default 1
	DeepMinScore  int // default 6

	AutoModel    bool
	ModelPerTier map[v1.ModelTier]string // e.g. fast -> "anthropic:claude-haiku"

	PersonalityToAgent map[string]string
	PersonalityToModel map[string]string

	// AgentTypeCapabilities maps an agent type to the capabilities a
	// worker must declare to run tasks of that type, e.g.
	// {"review": ["code-review"]}.
	AgentTypeCapabilities map[string][]string
}

// DefaultConfig returns the default complexity thresholds.
func DefaultConfig() Config {
	return Config{QuickMaxScore: 1, DeepMinScore: 6}
}

// Input is everything the Router needs to make a decision. It carries no
// connections, no clock, no store handle.
type Input struct {
	Prompt               string
	AgentType            string
	Files                []string
	WorkerPersonality    string
	TargetAgentName      string
	ModelRef             string   // explicit request-level model/model_ref, either form
	RequiredCapabilities []string // explicit request-level capability requirements
	Metadata             map[string]interface{}
}

// metaString reads a string-valued key from the metadata map.
func metaString(md map[string]interface{}, key string) string {
	if md == nil {
		return ""
	}
	v, _ := md[key].(string)
	return v
}

func metaBool(md map[string]interface{}, key string) bool {
	if md == nil {
		return false
	}
	v, _ := md[key].(bool)
	return v
}

// metaStringSlice reads a list-of-strings key from the metadata map,
// tolerating both []string and the []interface{} JSON decoding produces.
func metaStringSlice(md map[string]interface{}, key string) []string {
	if md == nil {
		return nil
	}
	switch v := md[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// InferComplexity computes the integer score from prompt length, file
// count, hints, and keywords, and maps it to a Complexity band; an
// explicit metadata override wins outright.
func InferComplexity(in Input, cfg Config) (v1.Complexity, int) {
	if explicit := metaString(in.Metadata, "complexity"); explicit != "" {
		return v1.Complexity(explicit), 0
	}

	score := 0
	n := len(in.Prompt)
	switch {
	case n >= 3500:
		score += 3
	case n >= 1200:
		score += 2
	case n >= 200:
		score += 1
	}

	switch {
	case len(in.Files) >= 12:
		score += 2
	case len(in.Files) >= 5:
		score += 1
	}

	if metaBool(in.Metadata, "resume_session") {
		score += 1
	}

	if planningAgentTypes[strings.ToLower(in.AgentType)] {
		score += 2
	}

	lower := strings.ToLower(in.Prompt)
	for _, kw := range deepIntentKeywords {
		if strings.Contains(lower, kw) {
			score += 2
		}
	}
	for _, kw := range quickIntentKeywords {
		if strings.Contains(lower, kw) {
			score -= 1
		}
	}

	switch {
	case score <= cfg.QuickMaxScore:
		return v1.ComplexityQuick, score
	case score >= cfg.DeepMinScore:
		return v1.ComplexityDeep, score
	default:
		return v1.ComplexityStandard, score
	}
}

var baselineTier = map[v1.Complexity]v1.ModelTier{
	v1.ComplexityQuick:    v1.TierFast,
	v1.ComplexityStandard: v1.TierBalanced,
	v1.ComplexityDeep:     v1.TierHeavy,
}

var tierRank = map[v1.ModelTier]int{
	v1.TierFast:     0,
	v1.TierBalanced: 1,
	v1.TierHeavy:    2,
}

func clampTier(t v1.ModelTier, floor, cap_ v1.ModelTier) v1.ModelTier {
	if floor != "" && tierRank[t] < tierRank[floor] {
		t = floor
	}
	if cap_ != "" && tierRank[t] > tierRank[cap_] {
		t = cap_
	}
	return t
}

// SelectTier applies the baseline mapping, the quick-cap/deep-floor
// guard-rails, and budget/latency/quality hints, honoring an explicit
// metadata tier override subject to explicit min/max hints.
func SelectTier(complexity v1.Complexity, in Input) v1.ModelTier {
	tier := baselineTier[complexity]

	if explicit := metaString(in.Metadata, "tier"); explicit != "" {
		tier = v1.ModelTier(explicit)
	} else {
		switch complexity {
		case v1.ComplexityQuick:
			tier = clampTier(tier, "", v1.TierFast)
		case v1.ComplexityDeep:
			tier = clampTier(tier, v1.TierBalanced, "")
		}
	}

	var floor, cap_ v1.ModelTier
	switch strings.ToLower(metaString(in.Metadata, "budget")) {
	case "low", "minimal", "strict":
		cap_ = v1.TierBalanced
	case "high", "premium":
		floor = v1.TierBalanced
	}
	if v := metaString(in.Metadata, "min_tier"); v != "" {
		floor = v1.ModelTier(v)
	}
	if v := metaString(in.Metadata, "max_tier"); v != "" {
		cap_ = v1.ModelTier(v)
	}

	return clampTier(tier, floor, cap_)
}

// ResolveModel walks the model-resolution priority chain (explicit
// request ref, then personality mapping, then tier mapping), returning the
// canonical-form ref and its source.
func ResolveModel(tier v1.ModelTier, personality string, in Input, cfg Config) (string, v1.ModelSource) {
	if in.ModelRef != "" {
		return modelref.ToCanonical(in.ModelRef), v1.ModelSourceExplicit
	}
	if explicit := metaString(in.Metadata, "model_ref"); explicit != "" {
		return modelref.ToCanonical(explicit), v1.ModelSourceExplicit
	}
	if explicit := metaString(in.Metadata, "model"); explicit != "" {
		return modelref.ToCanonical(explicit), v1.ModelSourceExplicit
	}

	if personality != "" {
		if ref, ok := cfg.PersonalityToModel[personality]; ok && ref != "" {
			return modelref.ToCanonical(ref), v1.ModelSourcePersonality
		}
	}

	if cfg.AutoModel {
		if ref, ok := cfg.ModelPerTier[tier]; ok && ref != "" {
			return modelref.ToCanonical(ref), v1.ModelSourceTier
		}
	}

	return "", v1.ModelSourceUnresolved
}

// ResolveCapabilities merges the capability requirements a task carries:
// the explicit request list, the required_capabilities metadata key, and
// the configured per-agent-type requirements. Values are lowercased and
// deduplicated, preserving first-seen order.
func ResolveCapabilities(in Input, cfg Config) []string {
	var merged []string
	seen := make(map[string]bool)
	add := func(caps []string) {
		for _, c := range caps {
			c = strings.ToLower(strings.TrimSpace(c))
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			merged = append(merged, c)
		}
	}

	add(in.RequiredCapabilities)
	add(metaStringSlice(in.Metadata, "required_capabilities"))
	if in.AgentType != "" {
		add(cfg.AgentTypeCapabilities[strings.ToLower(in.AgentType)])
	}
	return merged
}

// ResolveTarget picks the target agent name: explicit override first,
// then metadata, then the personality mapping.
func ResolveTarget(personality string, in Input, cfg Config) string {
	if in.TargetAgentName != "" {
		return in.TargetAgentName
	}
	if explicit := metaString(in.Metadata, "target_agent_name"); explicit != "" {
		return explicit
	}
	if personality != "" {
		if agent, ok := cfg.PersonalityToAgent[personality]; ok {
			return agent
		}
	}
	return ""
}

// Route is the Router's single entry point: a pure function from Input
// plus a Config snapshot to a RoutingDecision and the metadata bag that
// must be persisted alongside the task.
func Route(in Input, cfg Config) (v1.RoutingDecision, v1.Metadata) {
	complexity, _ := InferComplexity(in, cfg)
	tier := SelectTier(complexity, in)
	personality := in.WorkerPersonality
	modelRef, modelSource := ResolveModel(tier, personality, in, cfg)
	targetAgent := ResolveTarget(personality, in, cfg)
	requiredCaps := ResolveCapabilities(in, cfg)

	decision := v1.RoutingDecision{
		Complexity:           complexity,
		ModelTier:            tier,
		ModelRef:             modelRef,
		ModelSource:          modelSource,
		TargetAgentName:      targetAgent,
		WorkerPersonality:    personality,
		RequiredCapabilities: requiredCaps,
	}

	meta := v1.Metadata{
		Routing: &v1.RoutingMetadata{
			Complexity:        complexity,
			ModelTier:         tier,
			ModelRef:          modelRef,
			ModelSource:       modelSource,
			TargetAgentName:   targetAgent,
			WorkerPersonality: personality,
			PolicyVersion:     policyVersion,
		},
		ModelRef:          modelRef,
		Model:             modelref.ToWire(modelRef),
		TargetAgentName:   targetAgent,
		WorkerPersonality: personality,
		Complexity:        complexity,
		ModelTier:         tier,
		NotifyEmail:       metaString(in.Metadata, "notify_email"),
		Knative:           metaBool(in.Metadata, "knative"),
	}

	// Everything outside the well-known-keys projection passes through
	// opaquely, preserved end to end.
	extras := make(map[string]interface{})
	for k, v := range in.Metadata {
		switch k {
		case "routing", "model_ref", "model", "target_agent_name", "worker_personality",
			"complexity", "model_tier", "tenant_id", "session_id", "notify_email", "knative":
		default:
			extras[k] = v
		}
	}
	if len(extras) > 0 {
		meta.Extras = extras
	}

	return decision, meta
}
