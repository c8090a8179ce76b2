// Package rewrite applies approved change records to source and markup
// files. All edits for one file happen in memory and are re-validated
// before anything touches disk; a file is either fully rewritten or left
// exactly as it was.
package rewrite

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/crypto/blake2b"

	"fieldmv/internal/errors"
	"fieldmv/internal/logging"
	"fieldmv/internal/pyast"
	"fieldmv/internal/records"
)

// BackupSuffix is appended to the original file before it is overwritten.
const BackupSuffix = ".fieldmv.bak"

// Status classifies the outcome of processing one file.
type Status string

const (
	// StatusSuccess: edits were applied and written.
	StatusSuccess Status = "success"
	// StatusNoChanges: applicable records existed but the text already
	// carries the new names. Re-running an apply is safe.
	StatusNoChanges Status = "no_changes"
	// StatusSkipped: no record applies to this file.
	StatusSkipped Status = "skipped"
	// StatusError: the file was left untouched because an edit failed or
	// did not survive validation.
	StatusError Status = "error"
)

// ProcessResult reports what happened to one file.
type ProcessResult struct {
	File       string
	Status     Status
	Applied    []string // change ids whose edits landed in the file
	BackupPath string
	// RolledBack reports that edits were attempted and discarded; the file
	// on disk is byte-identical to before the run.
	RolledBack bool
	Err        error
}

// Rewriter rewrites files under one source root. It is safe for
// concurrent use: each ProcessFile call builds its own parser, since a
// tree-sitter parser must never be shared across goroutines.
type Rewriter struct {
	root   string
	backup bool
	logger *logging.Logger
}

// NewRewriter creates a rewriter. When backup is true every processed
// file keeps its pre-edit bytes next to it.
func NewRewriter(root string, backup bool, logger *logging.Logger) *Rewriter {
	return &Rewriter{root: root, backup: backup, logger: logger}
}

// ProcessFile applies a group's records to one file. relPath is root-
// relative with forward slashes. With dryRun nothing is written; the result
// reports what would have happened.
func (r *Rewriter) ProcessFile(ctx context.Context, relPath string, kind records.FileKind, group *records.ChangeGroup, dryRun bool) ProcessResult {
	result := ProcessResult{File: relPath}

	changes := applicable(group, relPath, kind)
	if len(changes) == 0 {
		result.Status = StatusSkipped
		return result
	}

	fullPath := filepath.Join(r.root, filepath.FromSlash(relPath))
	original, err := os.ReadFile(fullPath)
	if err != nil {
		result.Status = StatusError
		result.Err = errors.New(errors.EditFailed, "cannot read "+relPath, err)
		return result
	}

	// The backup lands before any edit, whether or not the file ends up
	// changing: restoration must stay possible even if the in-memory
	// rollback path itself turns out to be broken. A file that cannot be
	// secured is never edited.
	if r.backup && !dryRun {
		backupPath := fullPath + BackupSuffix
		if err := writeBackup(backupPath, original); err != nil {
			result.Status = StatusError
			result.Err = errors.New(errors.RollbackFailed, "cannot secure backup for "+relPath, err)
			return result
		}
		result.BackupPath = backupPath
	}

	parser := pyast.NewParser()
	edited := original
	for _, ch := range changes {
		if err := ctx.Err(); err != nil {
			result.Status = StatusError
			result.Err = err
			return result
		}

		var next []byte
		var editErr error
		if kind == records.MarkupFile {
			next, editErr = r.editMarkup(edited, ch)
		} else {
			next, editErr = editSource(ctx, parser, edited, ch)
		}
		if editErr != nil {
			result.Status = StatusError
			result.RolledBack = true
			result.Err = editErr
			return result
		}
		if bytes.Equal(next, edited) {
			continue
		}

		// Every intermediate state must stay well formed; a broken
		// intermediate means the whole file rolls back.
		if err := validate(ctx, parser, next, kind); err != nil {
			result.Status = StatusError
			result.RolledBack = true
			result.Err = errors.New(errors.ValidationFailed,
				"edit for "+ch.ChangeID+" broke "+relPath, err)
			return result
		}

		edited = next
		result.Applied = append(result.Applied, ch.ChangeID)
	}

	if bytes.Equal(edited, original) {
		result.Status = StatusNoChanges
		result.Applied = nil
		return result
	}

	if dryRun {
		result.Status = StatusSuccess
		return result
	}

	if err := writeAtomic(fullPath, edited); err != nil {
		result.Status = StatusError
		result.Err = errors.New(errors.EditFailed, "cannot write "+relPath, err)
		return result
	}

	for _, id := range result.Applied {
		group.RecordApplied(relPath, id)
	}
	result.Status = StatusSuccess
	return result
}

// applicable returns the group's approved records for this file, in apply
// order.
func applicable(group *records.ChangeGroup, relPath string, kind records.FileKind) []records.ChangeRecord {
	var out []records.ChangeRecord
	for _, ch := range group.GetChangesForFile(relPath, kind) {
		if ch.Approved() {
			out = append(out, ch)
		}
	}
	return out
}

// editSource applies one record to Python source.
func editSource(ctx context.Context, parser *pyast.Parser, content []byte, ch records.ChangeRecord) ([]byte, error) {
	switch ch.ChangeScope {
	case records.ScopeDeclaration:
		if ch.ItemKind == records.ItemField {
			return editFieldDeclaration(content, ch.OldName, ch.NewName), nil
		}
		return editMethodDeclaration(content, ch.OldName, ch.NewName), nil
	default:
		region, err := contextRegion(ctx, parser, content, ch.LocatingContext)
		if err != nil {
			return nil, err
		}
		return editReferences(content, region, ch.OldName, ch.NewName), nil
	}
}

var (
	fieldDeclPattern  = `(?m)^(\s*)%s(\s*=\s*fields\.)`
	methodDeclPattern = `(?m)^(\s*def\s+)%s(\s*\()`
)

// editFieldDeclaration renames `old = fields.X(...)` assignments.
func editFieldDeclaration(content []byte, old, new string) []byte {
	re := regexp.MustCompile(strings.Replace(fieldDeclPattern, "%s", regexp.QuoteMeta(old), 1))
	return re.ReplaceAll(content, []byte("${1}"+new+"${2}"))
}

// editMethodDeclaration renames `def old(` statements.
func editMethodDeclaration(content []byte, old, new string) []byte {
	re := regexp.MustCompile(strings.Replace(methodDeclPattern, "%s", regexp.QuoteMeta(old), 1))
	return re.ReplaceAll(content, []byte("${1}"+new+"${2}"))
}

// editReferences renames uses of a member within a byte region: attribute
// accesses (self.old, super().old) and string-literal path segments
// ('old', 'rel.old', 'old.sub'). The leading dot or quote keeps local
// variables that merely share the name out of reach, and the trailing
// boundary keeps old from matching inside longer names.
func editReferences(content []byte, region span, old, new string) []byte {
	re := regexp.MustCompile(`([.'"])` + regexp.QuoteMeta(old) + `\b`)
	head := content[:region.start]
	body := re.ReplaceAll(content[region.start:region.end], []byte("${1}"+new))
	tail := content[region.end:]

	out := make([]byte, 0, len(head)+len(body)+len(tail))
	out = append(out, head...)
	out = append(out, body...)
	out = append(out, tail...)
	return out
}

// span is a half-open byte range.
type span struct {
	start, end uint32
}

// contextRegion resolves a locating context to the byte range the edit may
// touch. A method name maps to its definition including decorators; any
// other context (a keyword argument name, an empty context) means the whole
// file.
func contextRegion(ctx context.Context, parser *pyast.Parser, content []byte, locating string) (span, error) {
	whole := span{0, uint32(len(content))}
	if locating == "" {
		return whole, nil
	}

	root, err := parser.Parse(ctx, content)
	if err != nil {
		return span{}, errors.New(errors.ParseFailure, "cannot parse file for contextual edit", err)
	}

	for _, def := range pyast.FindNodes(root, pyast.NodeFunctionDefinition) {
		name := def.ChildByFieldName("name")
		if name == nil || pyast.Text(name, content) != locating {
			continue
		}
		// Include the decorator list so dependency declarations rename
		// together with the body.
		target := outermostDecorated(def)
		return span{target.StartByte(), target.EndByte()}, nil
	}

	// Context names a keyword argument or a method that no longer exists
	// under that name; fall back to the whole file and rely on the
	// boundary-anchored pattern.
	return whole, nil
}

func outermostDecorated(def *sitter.Node) *sitter.Node {
	if parent := def.Parent(); parent != nil && parent.Type() == pyast.NodeDecoratedDefinition {
		return parent
	}
	return def
}

var (
	markupNamePattern    = `(name=["'])%s(["'])`
	markupSegmentPattern = `(['(.])%s([').])`
)

// editMarkup renames name="old" attribute values and whole path segments
// inside attrs/domain expression strings.
func (r *Rewriter) editMarkup(content []byte, ch records.ChangeRecord) ([]byte, error) {
	old := regexp.QuoteMeta(ch.OldName)

	re := regexp.MustCompile(strings.Replace(markupNamePattern, "%s", old, 1))
	out := re.ReplaceAll(content, []byte("${1}"+ch.NewName+"${2}"))

	// attrs="{'invisible': [('old', '=', 0)]}" and domain path segments.
	re = regexp.MustCompile(strings.Replace(markupSegmentPattern, "%s", old, 1))
	return re.ReplaceAll(out, []byte("${1}"+ch.NewName+"${2}")), nil
}

// validate checks an edited buffer is still well formed.
func validate(ctx context.Context, parser *pyast.Parser, content []byte, kind records.FileKind) error {
	if kind == records.MarkupFile {
		return validateXML(content)
	}
	root, err := parser.Parse(ctx, content)
	if err != nil {
		return err
	}
	if root.HasError() {
		return errors.New(errors.ValidationFailed, "syntax error after edit", nil)
	}
	return nil
}

// validateXML tokenizes the whole document. Token-level checking is enough:
// the rewriter only touches attribute values, so structural breakage means
// the edit itself was wrong.
func validateXML(content []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.New(errors.ValidationFailed, "markup no longer parses", err)
		}
	}
}

// writeBackup writes the original bytes and reads them back, comparing
// digests. The original is only ever edited once its backup is known to
// be intact on disk.
func writeBackup(path string, original []byte) error {
	if err := os.WriteFile(path, original, 0o644); err != nil {
		return err
	}
	written, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if blake2b.Sum256(written) != blake2b.Sum256(original) {
		return errors.New(errors.RollbackFailed, "backup digest mismatch at "+path, nil)
	}
	return nil
}

// writeAtomic writes content through a temp file in the same directory.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fieldmv-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if info, err := os.Stat(path); err == nil {
		os.Chmod(tmpName, info.Mode())
	}
	return os.Rename(tmpName, path)
}
