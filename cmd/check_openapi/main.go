package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"medivault/internal/apiclient"
	"medivault/pkg/domain"
)

type openAPIDoc struct {
	Paths      map[string]map[string]any `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type operation struct {
	Method string
	Path   string
}

// operations the client and the development backend both rely on.
var operations = []operation{
	{"post", "/auth/register"},
	{"post", "/auth/login"},
	{"get", "/auth/me"},
	{"get", "/documents/"},
	{"post", "/documents/upload"},
	{"delete", "/documents/{document_id}"},
	{"post", "/chat/"},
}

// wireTypes maps schema names to the Go types that encode or decode them.
var wireTypes = map[string]reflect.Type{
	"User":            reflect.TypeOf(domain.Profile{}),
	"Document":        reflect.TypeOf(domain.Document{}),
	"Token":           reflect.TypeOf(apiclient.TokenResponse{}),
	"RegisterRequest": reflect.TypeOf(apiclient.RegisterRequest{}),
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI contract check passed.")
}

func check(doc openAPIDoc) error {
	var errs []error
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		errs = append(errs, err)
	} else if err := validateErrorResponse(errResp); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, checkOperations(doc)...)

	names := make([]string, 0, len(wireTypes))
	for name := range wireTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := getSchema(doc, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := ensureFieldsMatch(name, s, wireTypes[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

// validateErrorResponse requires the {"detail": string} error body.
func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["detail"] {
		return errors.New(`ErrorResponse.required must include "detail"`)
	}
	detail, ok := s.Properties["detail"]
	if !ok || detail.Type != "string" {
		return errors.New("ErrorResponse.detail must be string")
	}
	return nil
}

func checkOperations(doc openAPIDoc) []error {
	var errs []error
	for _, op := range operations {
		methods, ok := doc.Paths[op.Path]
		if !ok {
			errs = append(errs, fmt.Errorf("path %s missing", op.Path))
			continue
		}
		if _, ok := methods[op.Method]; !ok {
			errs = append(errs, fmt.Errorf("%s %s missing", strings.ToUpper(op.Method), op.Path))
		}
	}
	return errs
}

// ensureFieldsMatch compares schema properties with the JSON fields of t.
func ensureFieldsMatch(name string, s schema, t reflect.Type) error {
	fields := jsonFields(t)
	var errs []error
	for field, kind := range fields {
		prop, ok := s.Properties[field]
		if !ok {
			errs = append(errs, fmt.Errorf("%s missing property %q", name, field))
			continue
		}
		if prop.Type != kind {
			errs = append(errs, fmt.Errorf("%s.%s type %q, Go field encodes %q", name, field, prop.Type, kind))
		}
	}
	for prop := range s.Properties {
		if _, ok := fields[prop]; !ok {
			errs = append(errs, fmt.Errorf("%s property %q has no Go field", name, prop))
		}
	}
	return errors.Join(errs...)
}

func jsonFields(t reflect.Type) map[string]string {
	out := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		fieldName, _, _ := strings.Cut(tag, ",")
		if fieldName == "-" || !f.IsExported() {
			continue
		}
		if fieldName == "" {
			fieldName = f.Name
		}
		out[fieldName] = openAPIType(f.Type)
	}
	return out
}

func openAPIType(t reflect.Type) string {
	if t == reflect.TypeOf(domain.Timestamp{}) {
		return "string"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	default:
		return "string"
	}
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
