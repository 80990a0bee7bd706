package history

import "diffmage/cli/internal/evaluate"

// Evaluations returns the evaluation results in records, oldest first.
// Records without a result are skipped. A model missing from the result is
// taken from the record.
func Evaluations(records []Record) []evaluate.Result {
	var out []evaluate.Result
	for _, r := range records {
		if r.Kind != KindEvaluation || r.Evaluation == nil {
			continue
		}
		res := *r.Evaluation
		if res.Model == "" {
			res.Model = r.Model
		}
		out = append(out, res)
	}
	return out
}

// LastGeneration returns the newest generation record with a message, or
// false when there is none.
func LastGeneration(records []Record) (Record, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Kind == KindGeneration && records[i].Message != "" {
			return records[i], true
		}
	}
	return Record{}, false
}

// Newest returns the newest n records, all of them when n <= 0.
func Newest(records []Record, n int) []Record {
	if n <= 0 || n >= len(records) {
		return records
	}
	return records[len(records)-n:]
}
