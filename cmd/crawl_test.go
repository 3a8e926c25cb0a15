package cmd

import (
	"bytes"
	"testing"

	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/stretchr/testify/require"
)

func TestPrintRound(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printRound(&buf, 2, 3, []crawl.Job{
		{ID: "job-10", Stage: crawl.StageGenerate},
		{ID: "job-11", Stage: crawl.StageFetch},
		{ID: "job-12", Stage: crawl.StageParse},
		{ID: "job-13", Stage: crawl.StageUpdateDB},
	})

	out := buf.String()
	require.Contains(t, out, "round 2/3 complete")
	require.Contains(t, out, "GENERATE")
	require.Contains(t, out, "UPDATEDB")
	require.Contains(t, out, "job-13")
}
