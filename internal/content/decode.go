package content

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://schemas.gema.local/content/"

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error

	structValidator = newStructValidator()
)

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemaErr = fmt.Errorf("read content schemas: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			data, err := schemaFS.ReadFile("schemas/" + entry.Name())
			if err != nil {
				schemaErr = fmt.Errorf("read schema %s: %w", entry.Name(), err)
				return
			}
			name := strings.TrimSuffix(entry.Name(), ".json")
			if err := compiler.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(data)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", entry.Name(), err)
				return
			}
			names = append(names, name)
		}

		compiled := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			schema, err := compiler.Compile(schemaBaseURL + name + ".json")
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			compiled[name] = schema
		}
		schemas = compiled
	})
	return schemas, schemaErr
}

// DecodeAssignment checks raw assignment content against the shape of the given problem type and
// returns the typed variant.
func DecodeAssignment(pt ProblemType, raw []byte) (AssignmentContent, error) {
	var target AssignmentContent
	switch pt {
	case ProblemTypeMultipleChoice:
		target = &MultipleChoiceContent{}
	case ProblemTypeShortAnswer:
		target = &ShortAnswerContent{}
	case ProblemTypeEssay:
		target = &EssayContent{}
	case ProblemTypeFileUpload:
		target = &FileUploadContent{}
	case ProblemTypeCode:
		target = &CodeContent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProblemType, pt)
	}

	if err := decodeInto("assignment_"+string(pt), raw, target); err != nil {
		return nil, err
	}
	if err := checkAssignment(target); err != nil {
		return nil, err
	}
	return target, nil
}

// DecodeSubmission checks raw submission content against the shape of the given problem type and
// returns the typed variant.
func DecodeSubmission(pt ProblemType, raw []byte) (SubmissionContent, error) {
	var target SubmissionContent
	switch pt {
	case ProblemTypeMultipleChoice:
		target = &MultipleChoiceAnswers{}
	case ProblemTypeShortAnswer:
		target = &ShortAnswerSubmission{}
	case ProblemTypeEssay:
		target = &EssaySubmission{}
	case ProblemTypeFileUpload:
		target = &FileSubmission{}
	case ProblemTypeCode:
		target = &CodeSubmission{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProblemType, pt)
	}

	if err := decodeInto("submission_"+string(pt), raw, target); err != nil {
		return nil, err
	}
	return target, nil
}

func decodeInto(schemaName string, raw []byte, target interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalid("content", "content is required")
	}

	compiled, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := compiled[schemaName]
	if !ok {
		return fmt.Errorf("no schema registered for %s", schemaName)
	}

	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return invalid("content", "content must be valid JSON")
	}
	if err := schema.Validate(document); err != nil {
		var schemaErr *jsonschema.ValidationError
		if errors.As(err, &schemaErr) {
			return fromSchemaError(schemaErr)
		}
		return invalid("content", err.Error())
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return invalid("content", err.Error())
	}

	if err := structValidator.Struct(target); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fromValidatorErrors(validationErrors)
		}
		return err
	}
	return nil
}

func checkAssignment(target AssignmentContent) error {
	switch c := target.(type) {
	case *MultipleChoiceContent:
		verr := &ValidationError{}
		seen := make(map[string]struct{}, len(c.Questions))
		for i, question := range c.Questions {
			field := fmt.Sprintf("questions.%d", i)
			if _, dup := seen[question.ID]; dup {
				verr.add(field+".id", "duplicate question id")
			}
			seen[question.ID] = struct{}{}
			if _, ok := question.CorrectOptionID(); !ok {
				verr.add(field+".options", "at least one option must be marked correct")
			}
			optionIDs := make(map[string]struct{}, len(question.Options))
			for j, option := range question.Options {
				if _, dup := optionIDs[option.ID]; dup {
					verr.add(fmt.Sprintf("%s.options.%d.id", field, j), "duplicate option id")
				}
				optionIDs[option.ID] = struct{}{}
			}
		}
		return verr.orNil()
	case *FileUploadContent:
		for i, ext := range c.AllowedExtensions {
			if normalizeExtension(ext) == "" {
				return invalid(fmt.Sprintf("allowed_extensions.%d", i), "extension must not be blank")
			}
		}
		return nil
	case *ShortAnswerContent, *EssayContent, *CodeContent:
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownProblemType, target)
	}
}

func fromSchemaError(err *jsonschema.ValidationError) error {
	verr := &ValidationError{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			verr.add(pointerToField(e.InstanceLocation), e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	if len(verr.Fields) == 0 {
		verr.add("content", err.Message)
	}
	return verr
}

func fromValidatorErrors(errs validator.ValidationErrors) error {
	verr := &ValidationError{}
	for _, fe := range errs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		verr.add(field, fmt.Sprintf("failed on the '%s' rule", fe.Tag()))
	}
	return verr
}

func pointerToField(pointer string) string {
	field := strings.Trim(pointer, "/")
	if field == "" {
		return "content"
	}
	return strings.ReplaceAll(field, "/", ".")
}
