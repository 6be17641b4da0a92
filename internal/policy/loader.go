package policy

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// LoadError reports why a policy document set could not be loaded. A failed
// load never disturbs a previously published document set.
type LoadError struct {
	Document string
	Reason   string
}

func (e *LoadError) Error() string {
	if e.Document == "" {
		return fmt.Sprintf("policy load failed: %s", e.Reason)
	}
	return fmt.Sprintf("policy load failed for %q: %s", e.Document, e.Reason)
}

// documentFile is the on-disk YAML shape before include resolution.
type documentFile struct {
	ID         string              `yaml:"id"`
	Version    string              `yaml:"version"`
	Include    []string            `yaml:"include"`
	Operations map[string][]string `yaml:"operations"`
	Fields     []fieldFile         `yaml:"fields"`
	Scopes     map[string]struct {
		Fields     []string `yaml:"fields"`
		Parameters []string `yaml:"parameters"`
	} `yaml:"scopes"`
}

type fieldFile struct {
	Path           string `yaml:"path"`
	Classification string `yaml:"classification"`
}

// Load parses every *.yaml / *.yml document under dir in fsys, resolves
// includes, and returns the flattened document set. Any malformed document,
// grant referencing an undefined field, or include cycle fails the whole load.
func Load(fsys fs.FS, dir string) (map[string]*Document, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &LoadError{Reason: fmt.Sprintf("read policy dir: %v", err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := path.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, &LoadError{Reason: fmt.Sprintf("no policy documents in %s", dir)}
	}
	sort.Strings(names)

	// Parse files concurrently; include resolution below is sequential.
	var (
		mu    sync.Mutex
		files = make(map[string]*documentFile, len(names))
		g     errgroup.Group
	)
	for _, name := range names {
		g.Go(func() error {
			raw, err := fs.ReadFile(fsys, path.Join(dir, name))
			if err != nil {
				return &LoadError{Document: name, Reason: fmt.Sprintf("read: %v", err)}
			}
			var df documentFile
			if err := yaml.Unmarshal(raw, &df); err != nil {
				return &LoadError{Document: name, Reason: fmt.Sprintf("parse: %v", err)}
			}
			if df.ID == "" {
				return &LoadError{Document: name, Reason: "missing document id"}
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, ok := files[df.ID]; ok && prev != nil {
				return &LoadError{Document: df.ID, Reason: "duplicate document id"}
			}
			files[df.ID] = &df
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	documents := make(map[string]*Document, len(files))
	resolved := make(map[string]map[string]FieldDefinition, len(files))
	for id := range files {
		fields, err := resolveFields(id, files, resolved, map[string]bool{})
		if err != nil {
			return nil, err
		}
		doc, err := flatten(files[id], fields)
		if err != nil {
			return nil, err
		}
		documents[id] = doc
	}
	return documents, nil
}

// resolveFields collects the field definitions of a document plus everything
// it includes, detecting cycles along the way. visiting tracks the current
// DFS path.
func resolveFields(
	id string,
	files map[string]*documentFile,
	resolved map[string]map[string]FieldDefinition,
	visiting map[string]bool,
) (map[string]FieldDefinition, error) {
	if fields, ok := resolved[id]; ok {
		return fields, nil
	}
	if visiting[id] {
		return nil, &LoadError{Document: id, Reason: "include cycle"}
	}
	df, ok := files[id]
	if !ok {
		return nil, &LoadError{Document: id, Reason: "included document not found"}
	}

	visiting[id] = true
	defer delete(visiting, id)

	fields := make(map[string]FieldDefinition, len(df.Fields))
	for _, inc := range df.Include {
		included, err := resolveFields(inc, files, resolved, visiting)
		if err != nil {
			return nil, err
		}
		for p, fd := range included {
			fields[p] = fd
		}
	}
	for _, ff := range df.Fields {
		if ff.Path == "" {
			return nil, &LoadError{Document: id, Reason: "field definition without path"}
		}
		fd := FieldDefinition{Path: ff.Path, Classification: Classification(ff.Classification)}
		if fd.Classification == "" {
			fd.Classification = ClassificationBasic
		}
		switch fd.Classification {
		case ClassificationBasic, ClassificationRestricted, ClassificationSensitive:
		default:
			return nil, &LoadError{
				Document: id,
				Reason:   fmt.Sprintf("field %q has unknown classification %q", ff.Path, ff.Classification),
			}
		}
		fields[fd.Path] = fd
	}

	resolved[id] = fields
	return fields, nil
}

// flatten turns a parsed file plus its resolved field set into an immutable
// Document, verifying that every granted field path is declared.
func flatten(df *documentFile, fields map[string]FieldDefinition) (*Document, error) {
	doc := &Document{
		ID:         df.ID,
		Version:    df.Version,
		Operations: make(map[string][]string, len(df.Operations)),
		Fields:     fields,
		Grants:     make(map[string]ScopeGrant, len(df.Scopes)),
	}
	for op, scopes := range df.Operations {
		doc.Operations[op] = append([]string{}, scopes...)
	}

	for scope, grant := range df.Scopes {
		sg := ScopeGrant{
			Scope:      scope,
			Parameters: make(map[string]ValueRule, len(grant.Parameters)),
		}
		for _, fieldPath := range grant.Fields {
			if _, ok := fields[fieldPath]; !ok {
				return nil, &LoadError{
					Document: df.ID,
					Reason:   fmt.Sprintf("scope %q grants undefined field %q", scope, fieldPath),
				}
			}
			sg.Fields = append(sg.Fields, fieldPath)
		}
		sort.Strings(sg.Fields)

		for _, entry := range grant.Parameters {
			name, rule, err := parseParameterEntry(entry)
			if err != nil {
				return nil, &LoadError{
					Document: df.ID,
					Reason:   fmt.Sprintf("scope %q: %v", scope, err),
				}
			}
			sg.Parameters[name] = sg.Parameters[name].Union(rule)
		}
		doc.Grants[scope] = sg
	}
	return doc, nil
}

// parseParameterEntry parses one grant parameter entry. Supported forms:
//
//	name            any value
//	name=value      exactly this value
//	name=prefix*    values with this prefix
func parseParameterEntry(entry string) (string, ValueRule, error) {
	name, value, found := strings.Cut(entry, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ValueRule{}, fmt.Errorf("empty parameter name in entry %q", entry)
	}
	if !found {
		return name, ValueRule{AllowAll: true}, nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ValueRule{}, fmt.Errorf("empty value constraint in entry %q", entry)
	}
	if prefix, ok := strings.CutSuffix(value, "*"); ok {
		if strings.Contains(prefix, "*") {
			return "", ValueRule{}, fmt.Errorf("only a trailing wildcard is supported in entry %q", entry)
		}
		return name, ValueRule{Prefixes: []string{prefix}}, nil
	}
	return name, ValueRule{Exact: map[string]struct{}{value: {}}}, nil
}
