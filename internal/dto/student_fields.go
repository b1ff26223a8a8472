package dto

import (
	"encoding/json"
	"strings"
	"unicode"
)

// studentFieldAliases is the single place where alternate spellings of student fields live.
// snake_case and camelCase spellings of a canonical name are matched automatically; only
// additional names (mostly spreadsheet headers) need listing here.
var studentFieldAliases = []struct {
	Canonical string
	Aliases   []string
}{
	{"nik", []string{"nomor_induk_kependudukan", "no_nik"}},
	{"nisn", []string{"nomor_induk_siswa_nasional", "no_nisn"}},
	{"full_name", []string{"name", "nama", "nama_lengkap", "nama_siswa"}},
	{"nickname", []string{"nick_name", "nama_panggilan"}},
	{"gender", []string{"jenis_kelamin", "jk", "sex"}},
	{"birth_place", []string{"tempat_lahir", "place_of_birth"}},
	{"birth_date", []string{"tanggal_lahir", "date_of_birth", "dob"}},
	{"religion", []string{"agama"}},
	{"email", []string{"email_address", "surel"}},
	{"phone", []string{"phone_number", "no_hp", "telepon", "no_telepon"}},
	{"address", []string{"alamat"}},
	{"rt", nil},
	{"rw", nil},
	{"village", []string{"kelurahan", "desa"}},
	{"district", []string{"kecamatan"}},
	{"city", []string{"kota", "kabupaten", "kota_kabupaten"}},
	{"province", []string{"provinsi"}},
	{"postal_code", []string{"kode_pos", "zip"}},
	{"father_name", []string{"nama_ayah"}},
	{"father_nik", []string{"nik_ayah"}},
	{"father_phone", []string{"no_hp_ayah", "telepon_ayah"}},
	{"father_occupation", []string{"pekerjaan_ayah"}},
	{"father_education", []string{"pendidikan_ayah"}},
	{"father_income", []string{"penghasilan_ayah"}},
	{"mother_name", []string{"nama_ibu"}},
	{"mother_nik", []string{"nik_ibu"}},
	{"mother_phone", []string{"no_hp_ibu", "telepon_ibu"}},
	{"mother_occupation", []string{"pekerjaan_ibu"}},
	{"mother_education", []string{"pendidikan_ibu"}},
	{"mother_income", []string{"penghasilan_ibu"}},
	{"guardian_name", []string{"nama_wali"}},
	{"guardian_relation", []string{"hubungan_wali"}},
	{"guardian_phone", []string{"no_hp_wali", "telepon_wali"}},
	{"guardian_occupation", []string{"pekerjaan_wali"}},
	{"guardian_education", []string{"pendidikan_wali"}},
	{"guardian_income", []string{"penghasilan_wali"}},
	{"class_id", []string{"kelas_id", "id_kelas"}},
	{"academic_year", []string{"tahun_ajaran"}},
	{"academic_level", []string{"jenjang"}},
	{"current_grade", []string{"tingkat", "kelas"}},
	{"is_active", []string{"active", "aktif", "status_aktif"}},
}

// studentFieldRef resolves a spelling to its canonical field. rank orders competing spellings of the
// same field: canonical spellings first, then aliases in table order.
type studentFieldRef struct {
	canonical string
	rank      int
}

var studentFieldIndex = buildStudentFieldIndex()

func buildStudentFieldIndex() map[string]studentFieldRef {
	index := make(map[string]studentFieldRef, len(studentFieldAliases)*3)
	for _, entry := range studentFieldAliases {
		index[squash(entry.Canonical)] = studentFieldRef{canonical: entry.Canonical, rank: 1}
		for i, alias := range entry.Aliases {
			index[squash(alias)] = studentFieldRef{canonical: entry.Canonical, rank: 2 + i}
		}
	}
	return index
}

// squash lowercases and drops separators so full_name, fullName and "Full Name" compare equal.
func squash(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// CanonicalStudentField resolves any accepted spelling to its canonical snake_case name.
func CanonicalStudentField(key string) (string, bool) {
	ref, ok := studentFieldIndex[squash(key)]
	return ref.canonical, ok
}

// StudentFieldNames lists canonical field names in display order.
func StudentFieldNames() []string {
	names := make([]string, 0, len(studentFieldAliases))
	for _, entry := range studentFieldAliases {
		names = append(names, entry.Canonical)
	}
	return names
}

type fieldCandidate struct {
	key   string
	rank  int
	value json.RawMessage
}

// beats orders spellings of one field: a value over null, the exact canonical name, other canonical
// spellings, aliases in table order, and finally the key itself.
func (c fieldCandidate) beats(other fieldCandidate) bool {
	cNull, otherNull := string(c.value) == "null", string(other.value) == "null"
	if cNull != otherNull {
		return otherNull
	}
	if c.rank != other.rank {
		return c.rank < other.rank
	}
	return c.key < other.key
}

// NormalizeStudentJSON rewrites the keys of a JSON object to canonical names and drops keys that
// are not student fields. When several spellings of one field are present the winner does not
// depend on their order in the body.
func NormalizeStudentJSON(raw []byte) ([]byte, error) {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	chosen := make(map[string]fieldCandidate, len(in))
	for key, value := range in {
		ref, ok := studentFieldIndex[squash(key)]
		if !ok {
			continue
		}
		candidate := fieldCandidate{key: key, rank: ref.rank, value: value}
		if key == ref.canonical {
			candidate.rank = 0
		}
		if current, seen := chosen[ref.canonical]; seen && !candidate.beats(current) {
			continue
		}
		chosen[ref.canonical] = candidate
	}
	out := make(map[string]json.RawMessage, len(chosen))
	for canonical, candidate := range chosen {
		out[canonical] = candidate.value
	}
	return json.Marshal(out)
}
