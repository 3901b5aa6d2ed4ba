package changelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Changelog files are plain SQL annotated with marker comments:
//
//	--changeset alice:001-create-people context:dev,test labels:people
//	CREATE TABLE people (id BIGINT PRIMARY KEY, name TEXT NOT NULL);
//	--rollback DROP TABLE people;
//
// plus two include directives:
//
//	--include file:002-seed.sql
//	--includeAll path:releases/
//
// includeAll sorts entries lexically by filename so that numeric prefixes
// establish a stable order on every platform. Filesystem iteration order is
// never relied on.

const (
	changesetMarker  = "--changeset"
	rollbackMarker   = "--rollback"
	commentMarker    = "--comment"
	includeMarker    = "--include"
	includeAllMarker = "--includeall"
)

// Source is one (path, content) pair handed to the parser. The path is the
// logical source path recorded on every changeset parsed from it.
type Source struct {
	Path    string
	Content string
}

// ParseFile parses a changelog file, resolving include directives relative to
// the file's directory. Changesets are returned in declaration order, include
// order preserved.
func ParseFile(path string) ([]*ChangeSet, error) {
	p := newParser()
	sets, err := p.parsePath(path, path)
	if err != nil {
		return nil, err
	}
	return sets, nil
}

// ParseDir parses every .sql file directly under dir in lexical filename
// order, as if the directory were included with --includeAll.
func ParseDir(dir string) ([]*ChangeSet, error) {
	p := newParser()
	return p.parseDir(dir, dir)
}

// ParseSources parses an already-loaded ordered stream of sources. Include
// directives are not resolved; sources must be pre-flattened by the loader.
func ParseSources(sources []Source) ([]*ChangeSet, error) {
	p := newParser()
	var all []*ChangeSet
	var errs *multierror.Error
	for _, src := range sources {
		sets, err := p.parseContent(src.Path, src.Content, "")
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		all = append(all, sets...)
	}
	return all, errs.ErrorOrNil()
}

type parser struct {
	// seen maps changeset keys to the line of first occurrence so duplicate
	// keys within a single parse are rejected before any ledger comparison.
	seen    map[Key]string
	visited map[string]bool
}

func newParser() *parser {
	return &parser{
		seen:    make(map[Key]string),
		visited: make(map[string]bool),
	}
}

// parsePath parses one file from disk. logicalPath is the path recorded on
// changesets; diskPath is where the bytes live.
func (p *parser) parsePath(logicalPath, diskPath string) ([]*ChangeSet, error) {
	abs, err := filepath.Abs(diskPath)
	if err != nil {
		abs = diskPath
	}
	if p.visited[abs] {
		return nil, malformedf(logicalPath, 0, "include cycle: %s already parsed", logicalPath)
	}
	p.visited[abs] = true

	data, err := os.ReadFile(diskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read changelog %s: %w", logicalPath, err)
	}
	return p.parseContent(filepath.ToSlash(logicalPath), string(data), filepath.Dir(diskPath))
}

// parseDir parses every .sql file directly under dir in lexical order,
// aggregating per-file errors so one malformed file does not hide another.
func (p *parser) parseDir(logicalDir string, dir string) ([]*ChangeSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read changelog directory %s: %w", logicalDir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".sql") {
			names = append(names, entry.Name())
		}
	}
	// Explicit sort key. Directory iteration order is not deterministic
	// everywhere, and changeset order is load-bearing.
	sort.Strings(names)

	var all []*ChangeSet
	var errs *multierror.Error
	for _, name := range names {
		sets, err := p.parsePath(
			filepath.ToSlash(filepath.Join(logicalDir, name)),
			filepath.Join(dir, name),
		)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		all = append(all, sets...)
	}
	return all, errs.ErrorOrNil()
}

// parseContent parses raw changelog text. includeDir is the directory include
// directives resolve against; empty disables includes.
func (p *parser) parseContent(path, content, includeDir string) ([]*ChangeSet, error) {
	var (
		sets    []*ChangeSet
		current *builder
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		cs, err := current.finish()
		if err != nil {
			return err
		}
		key := cs.Key()
		if prev, ok := p.seen[key]; ok {
			return malformedf(path, cs.Line, "duplicate changeset key %s (first declared at %s)", key, prev)
		}
		p.seen[key] = fmt.Sprintf("%s:%d", path, cs.Line)
		sets = append(sets, cs)
		return nil
	}

	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, changesetMarker):
			if err := flush(); err != nil {
				return nil, err
			}
			b, err := newBuilder(path, lineNo, strings.TrimSpace(line[len(changesetMarker):]))
			if err != nil {
				return nil, err
			}
			current = b

		case strings.HasPrefix(lower, rollbackMarker):
			if current == nil {
				return nil, malformedf(path, lineNo, "rollback marker with no preceding changeset")
			}
			current.rollbackLine(strings.TrimSpace(line[len(rollbackMarker):]))

		case strings.HasPrefix(lower, includeAllMarker):
			if err := flush(); err != nil {
				return nil, err
			}
			current = nil
			dir, err := includeArgument(path, lineNo, line[len(includeAllMarker):], "path")
			if err != nil {
				return nil, err
			}
			if includeDir == "" {
				return nil, malformedf(path, lineNo, "includeAll is not supported for this source")
			}
			included, err := p.parseDir(joinLogical(path, dir), filepath.Join(includeDir, filepath.FromSlash(dir)))
			if err != nil {
				return nil, err
			}
			sets = append(sets, included...)

		case strings.HasPrefix(lower, includeMarker):
			if err := flush(); err != nil {
				return nil, err
			}
			current = nil
			file, err := includeArgument(path, lineNo, line[len(includeMarker):], "file")
			if err != nil {
				return nil, err
			}
			if includeDir == "" {
				return nil, malformedf(path, lineNo, "include is not supported for this source")
			}
			included, err := p.parsePath(joinLogical(path, file), filepath.Join(includeDir, filepath.FromSlash(file)))
			if err != nil {
				return nil, err
			}
			sets = append(sets, included...)

		case strings.HasPrefix(lower, commentMarker):
			// ignored

		case strings.HasPrefix(line, "--"):
			// plain SQL comment, ignored

		case line == "":
			// blank

		default:
			if current == nil {
				// SQL before any changeset marker. Liquibase-style changelogs
				// require every statement to belong to a changeset.
				return nil, malformedf(path, lineNo, "statement outside of a changeset")
			}
			current.bodyLine(raw)
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return sets, nil
}

// builder accumulates one changeset between markers.
type builder struct {
	cs       *ChangeSet
	body     strings.Builder
	rollback strings.Builder
}

// newBuilder parses the attribute list following a --changeset marker. The
// first token is the required author:id pair; the rest are key:value
// attributes.
func newBuilder(path string, line int, args string) (*builder, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return nil, malformedf(path, line, "changeset marker requires author:id")
	}

	author, id, ok := strings.Cut(fields[0], ":")
	if !ok || strings.TrimSpace(author) == "" || strings.TrimSpace(id) == "" {
		return nil, malformedf(path, line, "changeset marker requires author:id, got %q", fields[0])
	}

	cs := &ChangeSet{
		ID:         strings.TrimSpace(id),
		Author:     strings.TrimSpace(author),
		SourcePath: path,
		Line:       line,
	}

	for _, attr := range fields[1:] {
		key, value, ok := strings.Cut(attr, ":")
		if !ok {
			return nil, malformedf(path, line, "malformed changeset attribute %q", attr)
		}
		switch strings.ToLower(key) {
		case "context", "contexts":
			cs.Contexts = newSet(strings.Split(value, ","))
		case "labels", "label":
			cs.Labels = newSet(strings.Split(value, ","))
		case "runalways":
			cs.RunAlways = strings.EqualFold(value, "true")
		case "runonchange":
			cs.RunOnChange = strings.EqualFold(value, "true")
		default:
			return nil, malformedf(path, line, "unknown changeset attribute %q", key)
		}
	}
	return &builder{cs: cs}, nil
}

func (b *builder) bodyLine(line string) {
	b.body.WriteString(line)
	b.body.WriteString("\n")
}

func (b *builder) rollbackLine(line string) {
	b.rollback.WriteString(line)
	b.rollback.WriteString("\n")
}

func (b *builder) finish() (*ChangeSet, error) {
	b.cs.Statements = SplitStatements(b.body.String())
	if len(b.cs.Statements) == 0 {
		return nil, malformedf(b.cs.SourcePath, b.cs.Line, "changeset %s:%s has no statements", b.cs.Author, b.cs.ID)
	}
	b.cs.RollbackStatements = SplitStatements(b.rollback.String())
	b.cs.Checksum = ComputeChecksum(b.cs.Statements)
	return b.cs, nil
}

// SplitStatements splits SQL text into individual statements on semicolons
// that sit outside string literals, quoted identifiers, and comments. A
// trailing statement without a terminator is kept.
func SplitStatements(sql string) []string {
	var (
		stmts   []string
		current strings.Builder
		inSingle,
		inDouble,
		inLineComment,
		inBlockComment bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
			}
			current.WriteRune(c)
		case inBlockComment:
			current.WriteRune(c)
			if c == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				current.WriteRune(runes[i+1])
				i++
				inBlockComment = false
			}
		case inSingle:
			current.WriteRune(c)
			if c == '\'' {
				// '' escapes a quote inside a literal
				if i+1 < len(runes) && runes[i+1] == '\'' {
					current.WriteRune(runes[i+1])
					i++
				} else {
					inSingle = false
				}
			}
		case inDouble:
			current.WriteRune(c)
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
			current.WriteRune(c)
		case c == '"':
			inDouble = true
			current.WriteRune(c)
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inLineComment = true
			current.WriteRune(c)
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			inBlockComment = true
			current.WriteRune(c)
		case c == ';':
			flush()
		default:
			current.WriteRune(c)
		}
	}
	flush()
	return stmts
}

// includeArgument extracts the value of a file:/path: argument on an include
// directive line.
func includeArgument(path string, line int, rest, wantKey string) (string, error) {
	arg := strings.TrimSpace(rest)
	key, value, ok := strings.Cut(arg, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), wantKey) || strings.TrimSpace(value) == "" {
		return "", malformedf(path, line, "include directive requires %s:<path>, got %q", wantKey, arg)
	}
	return filepath.ToSlash(strings.TrimSpace(value)), nil
}

// joinLogical joins an include target onto the including file's logical
// directory, keeping forward slashes.
func joinLogical(includingPath, target string) string {
	dir := filepath.ToSlash(filepath.Dir(filepath.FromSlash(includingPath)))
	if dir == "." {
		return target
	}
	return dir + "/" + target
}
