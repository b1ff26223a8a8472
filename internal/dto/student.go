package dto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/sma-student-records/internal/models"
)

// StudentPayload carries student fields for create and patch requests.
// A nil pointer means the field was not supplied. An empty NISN or class id clears the value.
type StudentPayload struct {
	NIK        *string `json:"nik,omitempty"`
	NISN       *string `json:"nisn,omitempty"`
	FullName   *string `json:"full_name,omitempty"`
	Nickname   *string `json:"nickname,omitempty"`
	Gender     *string `json:"gender,omitempty"`
	BirthPlace *string `json:"birth_place,omitempty"`
	BirthDate  *Date   `json:"birth_date,omitempty"`
	Religion   *string `json:"religion,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`

	Address    *string `json:"address,omitempty"`
	RT         *string `json:"rt,omitempty"`
	RW         *string `json:"rw,omitempty"`
	Village    *string `json:"village,omitempty"`
	District   *string `json:"district,omitempty"`
	City       *string `json:"city,omitempty"`
	Province   *string `json:"province,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`

	FatherName       *string `json:"father_name,omitempty"`
	FatherNIK        *string `json:"father_nik,omitempty"`
	FatherPhone      *string `json:"father_phone,omitempty"`
	FatherOccupation *string `json:"father_occupation,omitempty"`
	FatherEducation  *string `json:"father_education,omitempty"`
	FatherIncome     *string `json:"father_income,omitempty"`

	MotherName       *string `json:"mother_name,omitempty"`
	MotherNIK        *string `json:"mother_nik,omitempty"`
	MotherPhone      *string `json:"mother_phone,omitempty"`
	MotherOccupation *string `json:"mother_occupation,omitempty"`
	MotherEducation  *string `json:"mother_education,omitempty"`
	MotherIncome     *string `json:"mother_income,omitempty"`

	GuardianName       *string `json:"guardian_name,omitempty"`
	GuardianRelation   *string `json:"guardian_relation,omitempty"`
	GuardianPhone      *string `json:"guardian_phone,omitempty"`
	GuardianOccupation *string `json:"guardian_occupation,omitempty"`
	GuardianEducation  *string `json:"guardian_education,omitempty"`
	GuardianIncome     *string `json:"guardian_income,omitempty"`

	ClassID       *string `json:"class_id,omitempty"`
	AcademicYear  *string `json:"academic_year,omitempty"`
	AcademicLevel *string `json:"academic_level,omitempty"`
	CurrentGrade  *string `json:"current_grade,omitempty"`

	IsActive *bool `json:"is_active,omitempty"`
}

// AcademicLevelRequest moves a student to a new academic placement.
type AcademicLevelRequest struct {
	AcademicLevel string `json:"academic_level" validate:"required"`
	CurrentGrade  string `json:"current_grade" validate:"required"`
	AcademicYear  string `json:"academic_year" validate:"required"`
}

// ImportRowResult reports the outcome of a single imported row.
type ImportRowResult struct {
	Success bool            `json:"success"`
	Data    *models.Student `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Row     int             `json:"row"`
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Success  bool              `json:"success"`
	Imported int               `json:"imported"`
	Failed   int               `json:"failed"`
	Results  []ImportRowResult `json:"results"`
}

var birthDateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "2/1/2006", time.RFC3339}

// PayloadFromRow converts a spreadsheet row keyed by canonical field names into a payload.
// Empty cells are treated as absent.
func PayloadFromRow(row map[string]string) (StudentPayload, error) {
	var p StudentPayload
	str := func(key string) *string {
		value, ok := row[key]
		if !ok {
			return nil
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil
		}
		return &value
	}

	p.NIK = str("nik")
	p.NISN = str("nisn")
	p.FullName = str("full_name")
	p.Nickname = str("nickname")
	if g := str("gender"); g != nil {
		normalized := NormalizeGender(*g)
		p.Gender = &normalized
	}
	p.BirthPlace = str("birth_place")
	if raw := str("birth_date"); raw != nil {
		parsed, err := parseDate(*raw)
		if err != nil {
			return p, err
		}
		p.BirthDate = &Date{Time: parsed}
	}
	p.Religion = str("religion")
	p.Email = str("email")
	p.Phone = str("phone")
	p.Address = str("address")
	p.RT = str("rt")
	p.RW = str("rw")
	p.Village = str("village")
	p.District = str("district")
	p.City = str("city")
	p.Province = str("province")
	p.PostalCode = str("postal_code")
	p.FatherName = str("father_name")
	p.FatherNIK = str("father_nik")
	p.FatherPhone = str("father_phone")
	p.FatherOccupation = str("father_occupation")
	p.FatherEducation = str("father_education")
	p.FatherIncome = str("father_income")
	p.MotherName = str("mother_name")
	p.MotherNIK = str("mother_nik")
	p.MotherPhone = str("mother_phone")
	p.MotherOccupation = str("mother_occupation")
	p.MotherEducation = str("mother_education")
	p.MotherIncome = str("mother_income")
	p.GuardianName = str("guardian_name")
	p.GuardianRelation = str("guardian_relation")
	p.GuardianPhone = str("guardian_phone")
	p.GuardianOccupation = str("guardian_occupation")
	p.GuardianEducation = str("guardian_education")
	p.GuardianIncome = str("guardian_income")
	p.ClassID = str("class_id")
	p.AcademicYear = str("academic_year")
	p.AcademicLevel = str("academic_level")
	p.CurrentGrade = str("current_grade")
	if raw := str("is_active"); raw != nil {
		active, err := parseBool(*raw)
		if err != nil {
			return p, err
		}
		p.IsActive = &active
	}
	return p, nil
}

// NormalizeGender maps common spellings onto L/P. Unknown values are returned upper-cased.
func NormalizeGender(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "l", "m", "male", "laki-laki", "laki laki", "pria":
		return models.GenderMale
	case "p", "f", "female", "perempuan", "wanita":
		return models.GenderFemale
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

// Date accepts both plain dates and RFC3339 timestamps in JSON.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(raw []byte) error {
	value := strings.Trim(string(raw), `"`)
	if value == "" || value == "null" {
		return nil
	}
	parsed, err := parseDate(value)
	if err != nil {
		return err
	}
	d.Time = parsed
	return nil
}

// MarshalJSON renders the date portion only.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time.Format("2006-01-02") + `"`), nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid birth_date %q", raw)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ya", "y", "aktif", "active", "yes":
		return true, nil
	case "tidak", "n", "no", "nonaktif", "inactive":
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid is_active %q", raw)
	}
	return value, nil
}
