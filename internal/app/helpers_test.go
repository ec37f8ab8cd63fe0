package service_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/dreamscore/internal/adapters/reference"
	"github.com/okian/dreamscore/internal/domain/permutation"
	"github.com/okian/dreamscore/internal/domain/registry"
	"github.com/okian/dreamscore/internal/domain/scoring"
	"github.com/okian/dreamscore/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const (
	evalSC1 = "5821575"
	evalSC3 = "5821621"
	evalBad = "9999"
)

// newRegistry writes small reference files to a temp dir and builds a
// registry with three evaluations, one pointing at a missing gold standard.
func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"gold1.csv": "SUBJECTID,SHEDDING_SC1\na,1\nb,0\nc,1\nd,0\n",
		"tpl1.csv":  "SUBJECTID,SHEDDING_SC1\na,\nb,\nc,\nd,\n",
		"gold3.csv": "SUBJECTID,LOGSYMPTSCORE_SC3\na,0.5\nb,1.5\nc,0.1\nd,2.0\ne,1.0\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	scorer := scoring.NewScorer(scoring.WithTester(permutation.New(permutation.WithIterations(99))))
	reg, err := registry.New([]registry.Definition{
		{ID: evalSC1, Name: "DARPA-SC1", QuestionKey: "SC1", GoldStandard: "gold1.csv", Template: "tpl1.csv"},
		{ID: evalSC3, Name: "DARPA-SC3", QuestionKey: "SC3", GoldStandard: "gold3.csv"},
		{ID: evalBad, Name: "broken", QuestionKey: "SC2", GoldStandard: "missing.csv"},
	}, reference.NewLoader(dir, reference.WithLogger(logger.Nop())), scorer)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}
