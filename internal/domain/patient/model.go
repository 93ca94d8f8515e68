package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOthers Gender = "others"
)

// Valid reports whether g is one of the accepted genders. The same set
// applies to create and update.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOthers:
		return true
	}
	return false
}

type Verdict string

const (
	VerdictUnderweight Verdict = "underweight"
	VerdictNormal      Verdict = "normal"
	VerdictObese       Verdict = "obese"
)

const (
	underweightBelow = 18.5
	obeseFrom        = 30.0
)

// Age is a whole number of years. It decodes from a JSON number or from a
// numeric string, which older snapshot files contain.
type Age int

func (a *Age) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("age: %w", err)
		}
		raw = strings.TrimSpace(s)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// Accept 42.0 but not 42.5.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return fmt.Errorf("age must be a whole number, got %s", data)
		}
		n = int(f)
	}
	*a = Age(n)
	return nil
}

// Record is the persisted form of a patient. The id is the snapshot key and
// derived values are never stored.
type Record struct {
	Name   string  `json:"name"`
	City   string  `json:"city"`
	Age    Age     `json:"age"`
	Gender Gender  `json:"gender"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

// Patient is a record together with its id.
type Patient struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	City   string  `json:"city"`
	Age    Age     `json:"age"`
	Gender Gender  `json:"gender"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

func FromRecord(id string, r Record) Patient {
	return Patient{
		ID:     id,
		Name:   r.Name,
		City:   r.City,
		Age:    r.Age,
		Gender: r.Gender,
		Height: r.Height,
		Weight: r.Weight,
	}
}

func (p Patient) Record() Record {
	return Record{
		Name:   p.Name,
		City:   p.City,
		Age:    p.Age,
		Gender: p.Gender,
		Height: p.Height,
		Weight: p.Weight,
	}
}

// View is the read representation returned by the API: the stored fields plus
// BMI and verdict computed at read time.
type View struct {
	Patient
	BMI     float64 `json:"bmi"`
	Verdict Verdict `json:"verdict"`
}

func (p Patient) View() View {
	bmi, verdict := Derive(p.Height, p.Weight)
	return View{Patient: p, BMI: bmi, Verdict: verdict}
}

// Derive computes BMI rounded to two decimals and its verdict bracket. The
// bracket is chosen from the rounded value, so 18.499 is normal.
func Derive(height, weight float64) (float64, Verdict) {
	if height <= 0 {
		return 0, VerdictUnderweight
	}
	bmi := math.Round(weight/(height*height)*100) / 100
	switch {
	case bmi < underweightBelow:
		return bmi, VerdictUnderweight
	case bmi < obeseFrom:
		return bmi, VerdictNormal
	default:
		return bmi, VerdictObese
	}
}

// Validate checks every field and reports all violations at once.
func (p Patient) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.ID) == "" {
		verr.Add("id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		verr.Add("name", "is required")
	}
	if strings.TrimSpace(p.City) == "" {
		verr.Add("city", "is required")
	}
	if p.Age < 0 {
		verr.Add("age", "must be a non-negative integer")
	}
	if !p.Gender.Valid() {
		verr.Add("gender", fmt.Sprintf("must be one of %s, %s, %s", GenderMale, GenderFemale, GenderOthers))
	}
	// Written as !(x > 0) so NaN is rejected too.
	if !(p.Height > 0) || math.IsInf(p.Height, 0) {
		verr.Add("height", "must be greater than 0")
	}
	if !(p.Weight > 0) || math.IsInf(p.Weight, 0) {
		verr.Add("weight", "must be greater than 0")
	}
	// Extreme but positive values can still overflow the BMI.
	if !verr.Has("height") && !verr.Has("weight") {
		bmi := p.Weight / (p.Height * p.Height)
		if math.IsNaN(bmi) || math.IsInf(bmi, 0) {
			verr.Add("height", "yields a non-finite bmi")
		}
	}
	return verr.OrNil()
}

// Input carries client supplied patient fields. A nil field was absent from
// the request body.
type Input struct {
	ID     *string  `json:"id"`
	Name   *string  `json:"name"`
	City   *string  `json:"city"`
	Age    *Age     `json:"age"`
	Gender *Gender  `json:"gender"`
	Height *float64 `json:"height"`
	Weight *float64 `json:"weight"`
}

// Patient builds a complete patient for creation. Missing fields are reported
// alongside any other validation failures.
func (in Input) Patient() (Patient, error) {
	verr := &ValidationError{}
	required := []struct {
		field   string
		present bool
	}{
		{"id", in.ID != nil},
		{"name", in.Name != nil},
		{"city", in.City != nil},
		{"age", in.Age != nil},
		{"gender", in.Gender != nil},
		{"height", in.Height != nil},
		{"weight", in.Weight != nil},
	}
	for _, r := range required {
		if !r.present {
			verr.Add(r.field, "is required")
		}
	}

	var p Patient
	if in.ID != nil {
		p.ID = strings.TrimSpace(*in.ID)
	}
	p = MergeUpdate(p, in)

	if err := p.Validate(); err != nil {
		verr.merge(err.(*ValidationError))
	}
	return p, verr.OrNil()
}

// MergeUpdate overlays the fields present in in onto existing. The id is
// never changed. The caller must validate the result.
func MergeUpdate(existing Patient, in Input) Patient {
	merged := existing
	if in.Name != nil {
		merged.Name = *in.Name
	}
	if in.City != nil {
		merged.City = *in.City
	}
	if in.Age != nil {
		merged.Age = *in.Age
	}
	if in.Gender != nil {
		merged.Gender = *in.Gender
	}
	if in.Height != nil {
		merged.Height = *in.Height
	}
	if in.Weight != nil {
		merged.Weight = *in.Weight
	}
	return merged
}
