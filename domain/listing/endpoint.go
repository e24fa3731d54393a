package listing

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ParamLocation says where an endpoint parameter is carried.
type ParamLocation string

const (
	InQuery  ParamLocation = "query"
	InPath   ParamLocation = "path"
	InHeader ParamLocation = "header"
	InBody   ParamLocation = "body"
)

// ParamType is the declared type of an endpoint parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
)

// Param is one declared endpoint parameter (value type).
type Param struct {
	Name     string        `json:"name"`
	Type     ParamType     `json:"type"`
	In       ParamLocation `json:"in"`
	Required bool          `json:"required"`
}

// EndpointSpec is the structured endpoint descriptor of a listing.
// A malformed descriptor is an explicit parse failure, never a silent
// fallback to zero values.
type EndpointSpec struct {
	Method   string          `json:"method"`
	Path     string          `json:"path"`
	Params   []Param         `json:"params,omitempty"`
	Example  string          `json:"example,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ErrBadEndpointSpec is returned for descriptors that do not parse into
// the tagged structure or fail its invariants.
var ErrBadEndpointSpec = errors.New("listing: invalid endpoint descriptor")

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// ParseEndpointSpec decodes and validates a raw endpoint descriptor.
func ParseEndpointSpec(raw []byte) (EndpointSpec, error) {
	var spec EndpointSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return EndpointSpec{}, fmt.Errorf("%w: %v", ErrBadEndpointSpec, err)
	}
	if err := spec.Validate(); err != nil {
		return EndpointSpec{}, err
	}
	return spec, nil
}

// Validate checks the descriptor invariants.
func (e EndpointSpec) Validate() error {
	if !validMethods[e.Method] {
		return fmt.Errorf("%w: method %q", ErrBadEndpointSpec, e.Method)
	}
	if e.Path == "" || e.Path[0] != '/' {
		return fmt.Errorf("%w: path %q", ErrBadEndpointSpec, e.Path)
	}
	seen := make(map[string]bool, len(e.Params))
	for _, p := range e.Params {
		if p.Name == "" {
			return fmt.Errorf("%w: unnamed parameter", ErrBadEndpointSpec)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrBadEndpointSpec, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject:
		default:
			return fmt.Errorf("%w: parameter %q has unknown type %q", ErrBadEndpointSpec, p.Name, p.Type)
		}
		switch p.In {
		case InQuery, InPath, InHeader, InBody:
		default:
			return fmt.Errorf("%w: parameter %q has unknown location %q", ErrBadEndpointSpec, p.Name, p.In)
		}
	}
	return nil
}

// Encode serializes the descriptor for storage.
func (e EndpointSpec) Encode() ([]byte, error) {
	return json.Marshal(e)
}
