// Package specload reads chart specs from CUE, YAML or JSON files.
//
// A CUE source may be a single file or a directory of files in one
// package. When the evaluated value has a top-level "spec" field, that
// field is the spec; otherwise the whole value is. CUE specs must be
// concrete.
package specload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/roach88/chartsync/internal/value"
)

// Format is a spec source format.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Error codes.
const (
	ErrCodeNotFound    = "E005"
	ErrCodeLoadFailed  = "E004"
	ErrCodeBuildFailed = "E006"
	ErrCodeFormat      = "E008"
	ErrCodeIncomplete  = "E009"
)

// LoadError is a spec loading failure with a CUE position when known.
type LoadError struct {
	Code    string
	Message string
	Path    string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is a loaded spec.
type Result struct {
	Spec   any
	Format Format
	Path   string
}

// FormatOf picks the format from a file extension. Directories are CUE.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", &LoadError{
			Code:    ErrCodeFormat,
			Message: fmt.Sprintf("unsupported spec extension %q", filepath.Ext(path)),
			Path:    path,
		}
	}
}

// Load reads the spec at path.
func Load(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error(), Path: path}
	}

	if info.IsDir() {
		spec, err := loadCUEDir(path)
		if err != nil {
			return nil, err
		}
		return &Result{Spec: spec, Format: FormatCUE, Path: path}, nil
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), Path: path}
	}
	spec, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	return &Result{Spec: spec, Format: format, Path: path}, nil
}

// Parse decodes data in the given format. name labels error messages.
func Parse(data []byte, format Format, name string) (any, error) {
	var (
		raw any
		err error
	)
	switch format {
	case FormatCUE:
		ctx := cuecontext.New()
		return fromCUE(ctx.CompileBytes(data, cue.Filename(name)), name)
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	case FormatJSON:
		err = sonic.Unmarshal(data, &raw)
	default:
		return nil, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unknown format %q", format), Path: name}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), Path: name}
	}
	return normalize(raw, name)
}

func loadCUEDir(dir string) (any, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded", Path: dir}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: inst.Err.Error(), Path: dir}
	}
	ctx := cuecontext.New()
	return fromCUE(ctx.BuildInstance(inst), dir)
}

func fromCUE(v cue.Value, name string) (any, error) {
	if err := v.Err(); err != nil {
		return nil, cueError(ErrCodeBuildFailed, err, name)
	}
	if field := v.LookupPath(cue.ParsePath("spec")); field.Exists() {
		v = field
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeIncomplete, err, name)
	}

	var raw any
	if err := v.Decode(&raw); err != nil {
		return nil, cueError(ErrCodeBuildFailed, err, name)
	}
	return normalize(raw, name)
}

func cueError(code string, err error, name string) *LoadError {
	le := &LoadError{Code: code, Message: errors.Details(err, nil), Path: name}
	if list := errors.Errors(err); len(list) > 0 {
		le.Message = list[0].Error()
		le.Pos = list[0].Position()
	}
	return le
}

func normalize(raw any, name string) (any, error) {
	spec, err := value.Normalize(raw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), Path: name}
	}
	if _, ok := spec.(map[string]any); !ok {
		return nil, &LoadError{
			Code:    ErrCodeFormat,
			Message: fmt.Sprintf("spec must be an object, got %T", spec),
			Path:    name,
		}
	}
	return spec, nil
}
