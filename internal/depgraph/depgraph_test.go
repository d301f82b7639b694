package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetmesh/internal/model"
)

func spec(name string, deps ...string) model.AgentSpec {
	return model.AgentSpec{Name: name, Dependencies: deps}
}

func TestPlanLinearChainProducesOneBatchPerAgent(t *testing.T) {
	agents := []model.AgentSpec{
		spec("a1"), spec("a2", "a1"), spec("a3", "a2"), spec("a4", "a3"),
	}
	plan, err := Plan(agents)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 4)
	for _, b := range plan.Batches {
		assert.Len(t, b, 1)
	}
	assert.Equal(t, "a1", plan.Batches[0][0].Name)
	assert.Equal(t, "a4", plan.Batches[3][0].Name)
}

func TestPlanIndependentAgentsShareABatch(t *testing.T) {
	agents := []model.AgentSpec{spec("a"), spec("b"), spec("c")}
	plan, err := Plan(agents)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)
	assert.Len(t, plan.Batches[0], 3)
}

func TestPlanNoAgentDependsOnLaterBatch(t *testing.T) {
	agents := []model.AgentSpec{
		spec("registry"), spec("hub", "registry"),
		spec("coordinator", "registry", "hub"), spec("worker", "coordinator"),
	}
	plan, err := Plan(agents)
	require.NoError(t, err)

	batchOf := make(map[string]int)
	for i, batch := range plan.Batches {
		for _, a := range batch {
			batchOf[a.Name] = i
		}
	}
	for _, batch := range plan.Batches {
		for _, a := range batch {
			for _, dep := range a.Dependencies {
				assert.Less(t, batchOf[dep], batchOf[a.Name])
			}
		}
	}
}

func TestPlanDetectsCycle(t *testing.T) {
	agents := []model.AgentSpec{
		spec("a", "c"), spec("b", "a"), spec("c", "b"),
	}
	_, err := Plan(agents)
	require.Error(t, err)

	var cycErr *CycleError
	require.ErrorAs(t, err, &cycErr)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycErr.Participants)
}

func TestPlanFailsOnMissingDependency(t *testing.T) {
	agents := []model.AgentSpec{spec("a", "ghost")}
	_, err := Plan(agents)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindPlanError))
}

func TestPlanTieBreaksByPriorityThenName(t *testing.T) {
	agents := []model.AgentSpec{
		{Name: "low", StartupPriority: 1},
		{Name: "high", StartupPriority: 10},
		{Name: "mid", StartupPriority: 5},
	}
	plan, err := Plan(agents)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)
	names := []string{plan.Batches[0][0].Name, plan.Batches[0][1].Name, plan.Batches[0][2].Name}
	assert.Equal(t, []string{"high", "mid", "low"}, names)
}

func TestPlanIsDeterministicAcrossRuns(t *testing.T) {
	agents := []model.AgentSpec{
		spec("registry"), spec("hub", "registry"), spec("alpha", "hub"), spec("beta", "hub"),
	}
	first, err := Plan(agents)
	require.NoError(t, err)
	second, err := Plan(agents)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
