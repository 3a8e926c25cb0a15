package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageValid(t *testing.T) {
	t.Parallel()

	for _, stage := range Stages() {
		require.True(t, stage.Valid(), "stage %s", stage)
	}
	require.False(t, Stage("CRAWL").Valid())
	require.False(t, Stage("inject").Valid())
	require.False(t, Stage("").Valid())
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	stage, err := ParseStage("UPDATEDB")
	require.NoError(t, err)
	require.Equal(t, StageUpdateDB, stage)

	_, err = ParseStage("REINDEX")
	var invalid *InvalidStageError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, Stage("REINDEX"), invalid.Stage)
}

func TestStagesReturnsPipelineOrder(t *testing.T) {
	t.Parallel()

	stages := Stages()
	require.Equal(t, []Stage{StageInject, StageGenerate, StageFetch, StageParse, StageUpdateDB}, stages)

	// Callers get their own copy.
	stages[0] = StageFetch
	require.Equal(t, StageInject, Stages()[0])
}

func TestStageSuccessorChain(t *testing.T) {
	t.Parallel()

	require.Equal(t, StageGenerate, stageSuccessor[StageInject])
	require.Equal(t, StageFetch, stageSuccessor[StageGenerate])
	require.Equal(t, StageParse, stageSuccessor[StageFetch])
	require.Equal(t, StageUpdateDB, stageSuccessor[StageParse])
	_, ok := stageSuccessor[StageUpdateDB]
	require.False(t, ok)
}
