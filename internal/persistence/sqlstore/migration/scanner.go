package migration

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

type fsScanner struct {
	files fs.FS
	dir   string
}

// NewScanner returns a Scanner reading {version}_{description}.sql files from dir within files.
func NewScanner(files fs.FS, dir string) Scanner {
	return &fsScanner{files: files, dir: dir}
}

// ScanMigrations returns the migrations in dir ordered by numeric version.
func (s *fsScanner) ScanMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(s.files, s.dir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory %s: %w", s.dir, err)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		migration, err := s.parseFile(entry.Name())
		if err != nil {
			return nil, err
		}

		version, _ := strconv.Atoi(migration.Version)
		if existing, ok := seen[version]; ok {
			return nil, newMigrationError(migration, "check duplicates",
				fmt.Errorf("%w: version %s found in both %s and %s", ErrDuplicateVersion, migration.Version, existing, entry.Name()))
		}
		seen[version] = entry.Name()
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		vi, _ := strconv.Atoi(migrations[i].Version)
		vj, _ := strconv.Atoi(migrations[j].Version)
		return vi < vj
	})
	return migrations, nil
}

func (s *fsScanner) parseFile(name string) (Migration, error) {
	filePath := path.Join(s.dir, name)
	matches := migrationFilePattern.FindStringSubmatch(name)
	if len(matches) != 3 {
		return Migration{}, &MigrationError{FilePath: filePath, Operation: "validate filename",
			Err: fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, name)}
	}

	content, err := fs.ReadFile(s.files, filePath)
	if err != nil {
		return Migration{}, &MigrationError{Version: matches[1], FilePath: filePath, Operation: "read file", Err: err}
	}

	migration := Migration{
		Version:  matches[1],
		SQL:      string(content),
		FilePath: filePath,
		Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
	}
	if len(splitStatements(migration.SQL)) == 0 {
		return Migration{}, newMigrationError(migration, "validate content",
			fmt.Errorf("%w: no SQL statements found", ErrInvalidMigrationFile))
	}

	migration.Description = descriptionFromContent(migration.SQL)
	if migration.Description == "" {
		migration.Description = strings.ReplaceAll(matches[2], "_", " ")
	}
	return migration, nil
}

// descriptionFromContent reads a "-- Description:" header from the leading comment block.
func descriptionFromContent(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if rest, ok := strings.CutPrefix(line, "-- Description:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// splitStatements splits a migration into statements on ";" and strips
// comment-only lines. Migrations must not contain semicolons inside literals.
func splitStatements(content string) []string {
	var statements []string
	for _, raw := range strings.Split(content, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
