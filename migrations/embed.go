// Package migrations embeds the OrderCore schema migrations and applies
// them with golang-migrate. The service binaries, the migrator tool, and
// the test helpers all share the same embedded files, so no deployment can
// run against a schema the code never saw.
package migrations

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed *.sql
var embedded embed.FS

// Embedded returns the embedded migration filesystem. Callers that need a
// golang-migrate source (test helpers, tooling) wrap it with iofs.New.
func Embedded() fs.FS {
	return embedded
}

// File identifies one migration file by the parts of its name.
// Filenames follow NNN_name.up.sql / NNN_name.down.sql, where NNN is a
// three digit sequence number starting at 001.
type File struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

const (
	directionUp   = "up"
	directionDown = "down"

	sequenceDigits = 3
)

// parseFilename splits a migration filename into its sequence, name, and
// direction. Anything that deviates from the naming standard is an error,
// never silently skipped, so a typo cannot drop a migration from the set.
func parseFilename(filename string) (File, error) {
	malformed := func() (File, error) {
		return File{}, fmt.Errorf(
			"malformed migration filename %q (want NNN_name.up.sql or NNN_name.down.sql)",
			filename,
		)
	}

	stem, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return malformed()
	}

	stem, direction, ok := cutLast(stem, ".")
	if !ok || (direction != directionUp && direction != directionDown) {
		return malformed()
	}

	seqDigits, name, ok := strings.Cut(stem, "_")
	if !ok || len(seqDigits) != sequenceDigits || name == "" || !wellFormedName(name) {
		return malformed()
	}

	sequence, err := strconv.Atoi(seqDigits)
	if err != nil || sequence < 1 {
		return malformed()
	}

	return File{
		Sequence:  sequence,
		Name:      name,
		Direction: direction,
		Filename:  filename,
	}, nil
}

// wellFormedName reports whether a migration name uses only lowercase
// letters, digits, and underscores.
func wellFormedName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}

	return true
}

// cutLast splits s around the last occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}

	return s[:i], s[i+len(sep):], true
}

// List returns every .sql file in fsys as a parsed File, ordered by
// filename. A .sql entry that does not follow the naming standard fails the
// listing.
func List(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	var files []File

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		file, err := parseFilename(entry.Name())
		if err != nil {
			return nil, err
		}

		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})

	return files, nil
}

// Verify checks the migration set in fsys: at least one migration exists,
// every sequence number pairs an up file with a down file, sequences run
// from 001 without gaps, and no file is empty.
func Verify(fsys fs.FS) error {
	files, err := List(fsys)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found")
	}

	type pair struct {
		up, down bool
		name     string
	}

	pairs := make(map[int]*pair)
	head := 0

	for _, file := range files {
		content, err := fs.ReadFile(fsys, file.Filename)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file.Filename, err)
		}

		if len(strings.TrimSpace(string(content))) == 0 {
			return fmt.Errorf("migration %s is empty", file.Filename)
		}

		p := pairs[file.Sequence]
		if p == nil {
			p = &pair{name: file.Name}
			pairs[file.Sequence] = p
		}

		if p.name != file.Name {
			return fmt.Errorf(
				"sequence %03d names disagree: %q and %q",
				file.Sequence, p.name, file.Name,
			)
		}

		switch file.Direction {
		case directionUp:
			p.up = true
		case directionDown:
			p.down = true
		}

		if file.Sequence > head {
			head = file.Sequence
		}
	}

	for sequence := 1; sequence <= head; sequence++ {
		p := pairs[sequence]
		switch {
		case p == nil:
			return fmt.Errorf("gap in migration sequence: %03d is missing", sequence)
		case !p.up:
			return fmt.Errorf("migration %03d_%s has no up file", sequence, p.name)
		case !p.down:
			return fmt.Errorf("migration %03d_%s has no down file", sequence, p.name)
		}
	}

	return nil
}

// Head returns the highest sequence number in the migration set.
func Head(fsys fs.FS) (int, error) {
	files, err := List(fsys)
	if err != nil {
		return 0, err
	}

	head := 0
	for _, file := range files {
		if file.Sequence > head {
			head = file.Sequence
		}
	}

	return head, nil
}

// Checksum returns a stable digest over every migration file in fsys, in
// filename order. Two binaries reporting the same checksum carry the same
// schema.
func Checksum(fsys fs.FS) (string, error) {
	files, err := List(fsys)
	if err != nil {
		return "", err
	}

	digest := sha256.New()

	for _, file := range files {
		content, err := fs.ReadFile(fsys, file.Filename)
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", file.Filename, err)
		}

		digest.Write([]byte(file.Filename))
		digest.Write([]byte{0})
		digest.Write(content)
		digest.Write([]byte{0})
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}
