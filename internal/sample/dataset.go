package sample

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/dreamscore/internal/config"
	"github.com/okian/dreamscore/internal/domain/model"
)

// SubmissionsDir is the directory under a dataset root holding generated submissions.
const SubmissionsDir = "submissions"

// DefaultQualities are the prediction qualities of generated submissions.
var DefaultQualities = []float64{1, 0.8, 0.5, 0, -1}

// Dataset lists the files generated for one evaluation.
type Dataset struct {
	Evaluation  config.Evaluation
	Reference   Reference
	Submissions []string
}

// WriteDataset writes the gold standard and template of every evaluation to
// dir, plus one submission per quality under dir/submissions/<evaluation id>.
func (g *Generator) WriteDataset(dir string, evals []config.Evaluation, qualities []float64) ([]Dataset, error) {
	out := make([]Dataset, 0, len(evals))
	for _, e := range evals {
		q, ok := model.QuestionByKey(e.Question)
		if !ok {
			return nil, fmt.Errorf("%w: evaluation %s has unknown question %q", config.ErrInvalidConfig, e.ID, e.Question)
		}
		ref := g.Reference(q)
		ds := Dataset{Evaluation: e, Reference: ref}

		if err := WriteFile(filepath.Join(dir, e.GoldStandard), ref.WriteGold); err != nil {
			return nil, err
		}
		if e.Template != "" && e.Template != e.GoldStandard {
			if err := WriteFile(filepath.Join(dir, e.Template), ref.WriteTemplate); err != nil {
				return nil, err
			}
		}
		for _, quality := range qualities {
			p, err := g.Predictions(ref, quality)
			if err != nil {
				return nil, err
			}
			path := filepath.Join(dir, SubmissionsDir, e.ID, submissionName(quality)+".csv")
			if err := WriteFile(path, p.Write); err != nil {
				return nil, err
			}
			ds.Submissions = append(ds.Submissions, path)
		}
		out = append(out, ds)
	}
	return out, nil
}

func submissionName(quality float64) string {
	return "quality_" + strings.ReplaceAll(strconv.FormatFloat(quality, 'f', 2, 64), "-", "m")
}

// LoadEntries reads every dir/submissions/<evaluation id>/*.csv into entries.
// The file name becomes the submission and team name.
func LoadEntries(dir string) ([]Entry, error) {
	root := filepath.Join(dir, SubmissionsDir)
	evalDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var out []Entry
	for _, ed := range evalDirs {
		if !ed.IsDir() {
			continue
		}
		files, err := filepath.Glob(filepath.Join(root, ed.Name(), "*.csv"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
		for _, path := range files {
			payload, err := os.ReadFile(path) //nolint:gosec // operator path
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			out = append(out, Entry{
				EvaluationID: ed.Name(),
				Meta: model.Submission{
					UserID:   "sample",
					UserName: "sample",
					Name:     name,
					TeamName: name,
				},
				Payload: payload,
			})
		}
	}
	return out, nil
}

// Payload renders p as CSV bytes.
func (p Predictions) Payload() ([]byte, error) {
	var sb strings.Builder
	if err := p.Write(&sb); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
