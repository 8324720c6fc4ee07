package profile

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/spigell/hh-matcher/internal/resilience"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Parse validates the required fields of both profiles and decodes their
// typed views. Every failure is a *resilience.PermanentInputError.
func Parse(req *MatchRequest) (*Parsed, error) {
	if req == nil {
		return nil, resilience.Permanent("request", "match request is required")
	}
	if req.Candidate == nil {
		return nil, resilience.Permanent("candidate", "candidate profile is required")
	}
	if req.Job == nil {
		return nil, resilience.Permanent("job", "job profile is required")
	}

	for _, key := range []string{KeySkills, KeyExperienceYears, KeyEducationLevel} {
		if _, ok := req.Candidate[key]; !ok {
			return nil, resilience.Permanent("candidate."+key, "required field is missing")
		}
	}
	if _, ok := req.Job[KeyRequiredSkills]; !ok {
		return nil, resilience.Permanent("job."+KeyRequiredSkills, "required field is missing")
	}

	parsed := &Parsed{Request: req}
	if err := decode(req.Candidate, &parsed.Candidate); err != nil {
		return nil, &resilience.PermanentInputError{Field: "candidate", Reason: err.Error(), Err: err}
	}
	if err := decode(req.Job, &parsed.Job); err != nil {
		return nil, &resilience.PermanentInputError{Field: "job", Reason: err.Error(), Err: err}
	}

	if err := validateStruct("candidate", &parsed.Candidate); err != nil {
		return nil, err
	}
	if err := validateStruct("job", &parsed.Job); err != nil {
		return nil, err
	}

	parsed.Candidate.Skills = NormalizeSkills(parsed.Candidate.Skills)
	parsed.Job.RequiredSkills = NormalizeSkills(parsed.Job.RequiredSkills)

	return parsed, nil
}

func validateStruct(prefix string, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		// drop the root struct name, the prefix already says which profile it is
		ns := fe.Namespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		field := prefix + "." + ns
		return &resilience.PermanentInputError{
			Field:  field,
			Reason: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
			Err:    err,
		}
	}
	return &resilience.PermanentInputError{Field: prefix, Reason: err.Error(), Err: err}
}

func decode(input Attributes, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			locationFromString,
			skillNameFromMap,
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]any(input))
}

// locationFromString reads "Berlin" as Location{City: "Berlin"}.
func locationFromString(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(Location{}) {
		return data, nil
	}
	return map[string]any{"city": data}, nil
}

// skillNameFromMap reads {"name": "Go"} entries as "Go".
func skillNameFromMap(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Map || to.Kind() != reflect.String {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	if name, ok := m["name"]; ok {
		return fmt.Sprintf("%v", name), nil
	}
	return data, nil
}

// NormalizeSkills trims, drops empties and de-duplicates case-insensitively,
// keeping the first spelling seen.
func NormalizeSkills(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		if skill == "" {
			continue
		}
		key := strings.ToLower(skill)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, skill)
	}
	return out
}
