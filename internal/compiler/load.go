package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Load error codes (E001-E099).
const (
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoMutations = "E007" // catalog declares no mutations
)

// LoadMode controls how errors are handled while loading a catalog.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll keeps going and returns every error.
	LoadModeCollectAll
)

// Catalog is a loaded declaration catalog.
type Catalog struct {
	Declarations []Named
	FileCount    int
}

// Lookup returns the declaration registered under name.
func (c *Catalog) Lookup(name string) (Named, bool) {
	for _, n := range c.Declarations {
		if n.Name == name {
			return n, true
		}
	}
	return Named{}, false
}

// LoadError is a catalog-level failure with an error code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads every CUE file in dir as one instance and compiles the
// entries under "mutation". Declarations come back sorted by name.
//
// A nil Catalog means nothing could be loaded at all.
func LoadDir(dir string, mode LoadMode) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing declarations directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	catalog := &Catalog{FileCount: len(files)}
	errs := compileCatalog(value, catalog, mode)
	return catalog, errs
}

// CompileCatalog compiles the "mutation" entries of an already built value.
func CompileCatalog(value cue.Value, mode LoadMode) (*Catalog, []error) {
	catalog := &Catalog{}
	return catalog, compileCatalog(value, catalog, mode)
}

func compileCatalog(value cue.Value, catalog *Catalog, mode LoadMode) []error {
	var errs []error

	mutations := value.LookupPath(cue.ParsePath("mutation"))
	if !mutations.Exists() {
		return []error{&LoadError{Code: ErrCodeNoMutations, Message: "no mutation declarations found"}}
	}

	iter, err := mutations.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating mutations: %v", err)}}
	}
	for iter.Next() {
		n, err := CompileDeclaration(iter.Value())
		if err != nil {
			errs = append(errs, wrapCompileError(err, "mutation."+iter.Label()))
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		catalog.Declarations = append(catalog.Declarations, *n)
	}

	sort.Slice(catalog.Declarations, func(i, j int) bool {
		return catalog.Declarations[i].Name < catalog.Declarations[j].Name
	})

	if len(catalog.Declarations) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoMutations, Message: "no mutation declarations found"})
	}
	return errs
}

// FindCUEFiles walks dir and returns every .cue file path.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// wrapCompileError prefixes the compiler field with the entry path so
// errors from different entries can be told apart.
func wrapCompileError(err error, entry string) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		return &CompileError{Field: entry + "." + ce.Field, Message: ce.Message, Pos: ce.Pos}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: %v", entry, err)}
}
