// Package schema loads collection schemas written in CUE.
//
// A schema file declares collections under the top-level "collection" field:
//
//	collection: album: {
//		name:   string
//		artist: string
//		year:   int
//	}
//
// Field kinds are string, int, bool, list (array), and struct (object).
// Floats are rejected, matching the IR.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/livesync/internal/ir"
)

//go:embed album.cue
var builtinCUE string

// ErrUnknownCollection is returned for records of an undeclared collection.
var ErrUnknownCollection = errors.New("unknown collection")

// Error is a schema compilation error with source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Registry holds the declared collections.
type Registry struct {
	collections map[string]ir.CollectionSchema
}

// Builtin returns the registry compiled from the embedded album schema.
func Builtin() *Registry {
	reg, err := CompileString("album.cue", builtinCUE)
	if err != nil {
		panic(fmt.Sprintf("builtin schema: %v", err))
	}
	return reg
}

// CompileString compiles CUE source held in memory.
func CompileString(filename, src string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileValue(v)
}

// LoadDir loads the CUE package in dir.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load schema %s: no CUE instances", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load schema %s: %w", dir, inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileValue(v)
}

func compileValue(v cue.Value) (*Registry, error) {
	reg := &Registry{collections: make(map[string]ir.CollectionSchema)}

	collections := v.LookupPath(cue.ParsePath("collection"))
	if !collections.Exists() {
		return nil, &Error{Field: "collection", Message: "no collections declared", Pos: v.Pos()}
	}
	iter, err := collections.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		schema, err := Compile(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		reg.collections[schema.Name] = schema
	}
	return reg, nil
}

// Compile converts one collection struct into a schema. Fields keep their
// declaration order.
func Compile(name string, v cue.Value) (ir.CollectionSchema, error) {
	if err := v.Err(); err != nil {
		return ir.CollectionSchema{}, formatCUEError(err)
	}
	schema := ir.CollectionSchema{Name: name}

	iter, err := v.Fields(cue.Optional(true))
	if err != nil {
		return ir.CollectionSchema{}, formatCUEError(err)
	}
	for iter.Next() {
		kind, err := fieldKind(iter.Value())
		if err != nil {
			return ir.CollectionSchema{}, err
		}
		schema.Fields = append(schema.Fields, ir.FieldSchema{
			Name: iter.Label(),
			Kind: kind,
		})
	}
	return schema, nil
}

func fieldKind(v cue.Value) (ir.Kind, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return ir.KindString, nil
	case cue.IntKind:
		return ir.KindInt, nil
	case cue.BoolKind:
		return ir.KindBool, nil
	case cue.ListKind:
		return ir.KindArray, nil
	case cue.StructKind:
		return ir.KindObject, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &Error{
			Field:   "type",
			Message: "float fields are not supported; use int",
			Pos:     v.Pos(),
		}
	default:
		return "", &Error{
			Field:   "type",
			Message: fmt.Sprintf("unsupported field kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// Get returns the schema of collection.
func (r *Registry) Get(collection string) (ir.CollectionSchema, bool) {
	s, ok := r.collections[collection]
	return s, ok
}

// Names returns the declared collections, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check validates a record against its collection's schema.
func (r *Registry) Check(rec ir.Record) error {
	s, ok := r.collections[rec.Collection]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, rec.Collection)
	}
	return s.Check(rec.Fields)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
