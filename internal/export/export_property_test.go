package export

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/MeKo-Tech/doseocr/internal/extract"
)

func genRecord(value gopter.Gen) gopter.Gen {
	return gen.SliceOfN(8, value).Map(func(v []string) extract.Record {
		return extract.Record{
			Date:       v[0],
			PatientID:  v[1],
			Gender:     v[2],
			DAP:        v[3],
			AK:         v[4],
			FluoroTime: v[5],
			Run:        v[6],
			Room:       v[7],
		}
	})
}

func TestExportProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("csv row splits back into the record fields", prop.ForAll(
		func(r extract.Record) bool {
			out := strings.TrimPrefix(ToCSV([]extract.Record{r}), BOM)
			lines := strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n")
			if len(lines) != 2 {
				return false
			}
			fields := strings.Split(lines[1], ",")
			want := Row(r)
			if len(fields) != len(want) {
				return false
			}
			for i, f := range fields {
				if strings.Trim(f, `"`) != want[i] {
					return false
				}
			}
			return true
		},
		genRecord(gen.Identifier()),
	))

	properties.Property("csv reader recovers arbitrary values", prop.ForAll(
		func(r extract.Record) bool {
			out := strings.TrimPrefix(ToCSV([]extract.Record{r}), BOM)
			rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
			if err != nil || len(rows) != 2 {
				return false
			}
			want := Row(r)
			for i := range want {
				if rows[1][i] != want[i] {
					return false
				}
			}
			return true
		},
		genRecord(gen.AnyString().Map(func(s string) string {
			return strings.NewReplacer("\r", "", "\x00", "").Replace(strings.ToValidUTF8(s, ""))
		})),
	))

	properties.Property("tsv rows have eleven fields", prop.ForAll(
		func(r extract.Record) bool {
			line := strings.TrimSuffix(ToTSV([]extract.Record{r}), "\n")
			return !strings.Contains(line, "\n") && len(strings.Split(line, "\t")) == len(Header)
		},
		genRecord(gen.AnyString()),
	))

	properties.TestingRun(t)
}
