package transcript

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/BTreeMap/AvatarStudy/internal/models"
)

// CSVHeader is the first line of every exported transcript.
const CSVHeader = "timestamp,speaker,model,conduct,neurodiversity,content"

// ToCSV renders turns in the export format consumed by the analysis pipeline:
// the header row, then one row per turn with all six fields double-quoted and
// embedded quotes doubled. Rows are separated by "\n" with no trailing newline.
func ToCSV(turns []models.Turn) string {
	var b strings.Builder
	b.WriteString(CSVHeader)
	for _, t := range turns {
		b.WriteByte('\n')
		fields := [...]string{t.Timestamp, t.Sender, t.LLMModel, t.LLMConduct, t.LLMNeuro, t.Content}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(f, `"`, `""`))
			b.WriteByte('"')
		}
	}
	return b.String()
}

// ParseCSV reads an export produced by ToCSV back into turns. A "\r\n"
// inside a quoted field comes back as "\n".
func ParseCSV(data string) ([]models.Turn, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = 6
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcript CSV: %w", err)
	}
	if len(records) == 0 || strings.Join(records[0], ",") != CSVHeader {
		return nil, fmt.Errorf("transcript CSV missing header")
	}
	turns := make([]models.Turn, 0, len(records)-1)
	for _, rec := range records[1:] {
		turns = append(turns, models.Turn{
			Timestamp:  rec[0],
			Sender:     rec[1],
			LLMModel:   rec[2],
			LLMConduct: rec[3],
			LLMNeuro:   rec[4],
			Content:    rec[5],
		})
	}
	return turns, nil
}
