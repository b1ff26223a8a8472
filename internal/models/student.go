package models

import "time"

// Gender codes used on student records.
const (
	GenderMale   = "L"
	GenderFemale = "P"
)

// Student status filter values.
const (
	StudentStatusActive   = "active"
	StudentStatusInactive = "inactive"
)

// AcademicYearAll asks list queries to fall back to the institution's active academic year.
const AcademicYearAll = "all"

// Student is a learner registered in exactly one institution (instansi).
// NIK identifies the natural person; at most one record per NIK may be active across institutions.
type Student struct {
	ID         string     `db:"id" json:"id"`
	InstansiID string     `db:"instansi_id" json:"instansi_id"`
	NIK        string     `db:"nik" json:"nik" validate:"required,number,len=16"`
	NISN       *string    `db:"nisn" json:"nisn,omitempty" validate:"omitempty,number,len=10"`
	FullName   string     `db:"full_name" json:"full_name" validate:"required,max=150"`
	Nickname   string     `db:"nickname" json:"nickname"`
	Gender     string     `db:"gender" json:"gender" validate:"omitempty,oneof=L P"`
	BirthPlace string     `db:"birth_place" json:"birth_place"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Religion   string     `db:"religion" json:"religion"`
	Email      string     `db:"email" json:"email" validate:"omitempty,email"`
	Phone      string     `db:"phone" json:"phone" validate:"omitempty,max=20"`

	Address    string `db:"address" json:"address"`
	RT         string `db:"rt" json:"rt"`
	RW         string `db:"rw" json:"rw"`
	Village    string `db:"village" json:"village"`
	District   string `db:"district" json:"district"`
	City       string `db:"city" json:"city"`
	Province   string `db:"province" json:"province"`
	PostalCode string `db:"postal_code" json:"postal_code" validate:"omitempty,number,max=10"`

	FatherName       string `db:"father_name" json:"father_name"`
	FatherNIK        string `db:"father_nik" json:"father_nik" validate:"omitempty,number,len=16"`
	FatherPhone      string `db:"father_phone" json:"father_phone"`
	FatherOccupation string `db:"father_occupation" json:"father_occupation"`
	FatherEducation  string `db:"father_education" json:"father_education"`
	FatherIncome     string `db:"father_income" json:"father_income"`

	MotherName       string `db:"mother_name" json:"mother_name"`
	MotherNIK        string `db:"mother_nik" json:"mother_nik" validate:"omitempty,number,len=16"`
	MotherPhone      string `db:"mother_phone" json:"mother_phone"`
	MotherOccupation string `db:"mother_occupation" json:"mother_occupation"`
	MotherEducation  string `db:"mother_education" json:"mother_education"`
	MotherIncome     string `db:"mother_income" json:"mother_income"`

	GuardianName       string `db:"guardian_name" json:"guardian_name"`
	GuardianRelation   string `db:"guardian_relation" json:"guardian_relation"`
	GuardianPhone      string `db:"guardian_phone" json:"guardian_phone"`
	GuardianOccupation string `db:"guardian_occupation" json:"guardian_occupation"`
	GuardianEducation  string `db:"guardian_education" json:"guardian_education"`
	GuardianIncome     string `db:"guardian_income" json:"guardian_income"`

	ClassID       *string `db:"class_id" json:"class_id,omitempty" validate:"omitempty,uuid"`
	AcademicYear  string  `db:"academic_year" json:"academic_year"`
	AcademicLevel string  `db:"academic_level" json:"academic_level"`
	CurrentGrade  string  `db:"current_grade" json:"current_grade"`

	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NISNValue returns the NISN or an empty string.
func (s *Student) NISNValue() string {
	if s == nil || s.NISN == nil {
		return ""
	}
	return *s.NISN
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search       string
	ClassID      string
	Status       string
	Gender       string
	AcademicYear string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// Normalize clamps paging and ordering to supported values.
func (f StudentFilter) Normalize() StudentFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f
}

// StudentPromotion records an academic placement change.
type StudentPromotion struct {
	ID               string    `db:"id" json:"id"`
	StudentID        string    `db:"student_id" json:"student_id"`
	InstansiID       string    `db:"instansi_id" json:"instansi_id"`
	FromLevel        string    `db:"from_level" json:"from_level"`
	ToLevel          string    `db:"to_level" json:"to_level"`
	FromGrade        string    `db:"from_grade" json:"from_grade"`
	ToGrade          string    `db:"to_grade" json:"to_grade"`
	FromAcademicYear string    `db:"from_academic_year" json:"from_academic_year"`
	ToAcademicYear   string    `db:"to_academic_year" json:"to_academic_year"`
	PromotedAt       time.Time `db:"promoted_at" json:"promoted_at"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// StudentStats summarises an institution's student population.
type StudentStats struct {
	Total           int            `json:"total"`
	Active          int            `json:"active"`
	Inactive        int            `json:"inactive"`
	ByGender        map[string]int `json:"by_gender"`
	ByAcademicLevel map[string]int `json:"by_academic_level"`
}

// GroupCount is a generic label/count row.
type GroupCount struct {
	Label string `db:"label"`
	Total int    `db:"total"`
}
