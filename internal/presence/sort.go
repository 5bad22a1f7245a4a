package presence

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/normalize"
)

// Sorted returns the records in display order: teacher first, then by display
// name using a case-sensitive locale collation, then by user id.
func Sorted(online map[string]Record, teacherEmail string) []Record {
	out := make([]Record, 0, len(online))
	for _, r := range online {
		out = append(out, r)
	}

	teacher := normalize.Email(teacherEmail)
	isTeacher := func(r Record) bool {
		return teacher != "" && normalize.Email(r.Email) == teacher
	}
	// Tertiary strength distinguishes case.
	col := collate.New(language.English)

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := isTeacher(out[i]), isTeacher(out[j])
		if ti != tj {
			return ti
		}
		ni := normalize.DisplayName(out[i].Name, out[i].Email)
		nj := normalize.DisplayName(out[j].Name, out[j].Email)
		if c := col.CompareString(ni, nj); c != 0 {
			return c < 0
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
