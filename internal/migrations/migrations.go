package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var scripts embed.FS

// InitialSchemaFile is the first script applied to a new database
const InitialSchemaFile = "001_initial_schema.sql"

// GetInitialSchema returns the initial database schema
func GetInitialSchema() (string, error) {
	content, err := fs.ReadFile(scripts, "sql/"+InitialSchemaFile)
	if err != nil {
		return "", fmt.Errorf("could not read schema file: %w", err)
	}
	return string(content), nil
}

// All returns every embedded script in file name order
func All() ([]string, error) {
	entries, err := fs.ReadDir(scripts, "sql")
	if err != nil {
		return nil, fmt.Errorf("could not list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(scripts, "sql/"+name)
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", name, err)
		}
		out = append(out, string(content))
	}
	return out, nil
}
