package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

func TestInferComplexity_QuickAndDeep(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name string
		in   Input
		want v1.Complexity
	}{
		{
			name: "short rename",
			in:   Input{Prompt: "rename foo to bar", Files: []string{"a.py"}},
			want: v1.ComplexityQuick,
		},
		{
			name: "deep keyword triggers floor",
			in:   Input{Prompt: "perform a large architecture migration across the distributed services"},
			want: v1.ComplexityDeep,
		},
		{
			name: "explicit override wins",
			in:   Input{Prompt: "rename foo", Metadata: map[string]interface{}{"complexity": "deep"}},
			want: v1.ComplexityDeep,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := InferComplexity(tc.in, cfg)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSelectTier_GuardRails(t *testing.T) {
	in := Input{}
	assert.Equal(t, v1.TierFast, SelectTier(v1.ComplexityQuick, in))
	assert.Equal(t, v1.TierBalanced, SelectTier(v1.ComplexityDeep, Input{
		Metadata: map[string]interface{}{"budget": "low"},
	}))
}

func TestResolveModel_PriorityChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoModel = true
	cfg.ModelPerTier = map[v1.ModelTier]string{v1.TierFast: "anthropic:claude-haiku"}
	cfg.PersonalityToModel = map[string]string{"reviewer": "anthropic:claude-sonnet-4"}

	ref, source := ResolveModel(v1.TierFast, "", Input{ModelRef: "openai/gpt-5"}, cfg)
	require.Equal(t, "openai:gpt-5", ref)
	assert.Equal(t, v1.ModelSourceExplicit, source)

	ref, source = ResolveModel(v1.TierFast, "reviewer", Input{}, cfg)
	assert.Equal(t, "anthropic:claude-sonnet-4", ref)
	assert.Equal(t, v1.ModelSourcePersonality, source)

	ref, source = ResolveModel(v1.TierFast, "", Input{}, cfg)
	assert.Equal(t, "anthropic:claude-haiku", ref)
	assert.Equal(t, v1.ModelSourceTier, source)
}

func TestRoute_PersonalityScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersonalityToAgent = map[string]string{"reviewer": "code-reviewer"}
	cfg.PersonalityToModel = map[string]string{"reviewer": "anthropic:claude-sonnet-4"}

	decision, meta := Route(Input{
		Prompt:            "please review this change",
		WorkerPersonality: "reviewer",
	}, cfg)

	assert.Equal(t, "code-reviewer", decision.TargetAgentName)
	assert.Equal(t, "anthropic:claude-sonnet-4", decision.ModelRef)
	assert.Equal(t, "anthropic/claude-sonnet-4", meta.Model)
}

func TestResolveCapabilities_MergesAllSources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgentTypeCapabilities = map[string][]string{"review": {"code-review"}}

	caps := ResolveCapabilities(Input{
		AgentType:            "review",
		RequiredCapabilities: []string{"Python", "docker"},
		Metadata: map[string]interface{}{
			"required_capabilities": []interface{}{"docker", "gpu"},
		},
	}, cfg)

	assert.Equal(t, []string{"python", "docker", "gpu", "code-review"}, caps)
}

func TestRoute_PopulatesRequiredCapabilities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgentTypeCapabilities = map[string][]string{"build": {"compiler"}}

	decision, _ := Route(Input{
		Prompt:               "build it",
		AgentType:            "build",
		RequiredCapabilities: []string{"linux"},
	}, cfg)

	assert.Equal(t, []string{"linux", "compiler"}, decision.RequiredCapabilities)
}

func TestRoute_PreservesExtrasAndTypedKeys(t *testing.T) {
	cfg := DefaultConfig()
	_, meta := Route(Input{
		Prompt: "do a thing",
		Metadata: map[string]interface{}{
			"notify_email": "ops@example.com",
			"knative":      true,
			"trace_id":     "abc-123",
			"custom":       map[string]interface{}{"nested": 1},
		},
	}, cfg)

	assert.Equal(t, "ops@example.com", meta.NotifyEmail)
	assert.True(t, meta.Knative)
	assert.Equal(t, "abc-123", meta.Extras["trace_id"])
	assert.Contains(t, meta.Extras, "custom")
	assert.NotContains(t, meta.Extras, "notify_email", "typed keys are projected, not duplicated")
}

func TestRoute_IsPure(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{Prompt: "refactor the distributed incident pipeline", Files: []string{"a", "b", "c", "d", "e", "f"}}

	d1, m1 := Route(in, cfg)
	d2, m2 := Route(in, cfg)

	assert.Equal(t, d1, d2)
	assert.Equal(t, m1, m2)
}
