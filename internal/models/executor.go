// Package models applies the embedded DDL that creates the bronze, silver and
// gold objects. Every statement is idempotent so the models can be applied at
// the start of each run.
package models

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/storage/postgres"
)

//go:embed sql
var embedded embed.FS

// Layers in apply order.
var Layers = []string{"bronze", "silver", "gold"}

// Pool is the subset of pgxpool.Pool the executor needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schemas are substituted into the model templates.
type Schemas struct {
	Bronze      string
	BronzeTable string
	Silver      string
	Gold        string
}

func (s Schemas) validate() error {
	for name, v := range map[string]string{
		"bronze schema": s.Bronze,
		"bronze table":  s.BronzeTable,
		"silver schema": s.Silver,
		"gold schema":   s.Gold,
	} {
		if !postgres.ValidIdentifier(v) {
			return fmt.Errorf("invalid %s %q", name, v)
		}
	}
	return nil
}

// FileResult is the outcome of one model file.
type FileResult struct {
	File string
	Err  error
}

// LayerResult groups the files of one layer.
type LayerResult struct {
	Layer string
	Files []FileResult
	Err   error
}

// OK reports whether the layer applied cleanly.
func (l LayerResult) OK() bool {
	if l.Err != nil {
		return false
	}
	for _, f := range l.Files {
		if f.Err != nil {
			return false
		}
	}
	return true
}

// Result is the outcome of ApplyAll.
type Result struct {
	Layers []LayerResult
}

// OK reports whether every layer applied cleanly.
func (r Result) OK() bool {
	for _, l := range r.Layers {
		if !l.OK() {
			return false
		}
	}
	return true
}

// SchemaInfo describes one configured schema.
type SchemaInfo struct {
	Exists            bool
	Tables            int64
	MaterializedViews int64
}

// Executor renders and runs model files.
type Executor struct {
	pool    Pool
	fsys    fs.FS
	schemas Schemas
	logger  *zap.Logger
}

// New constructs an Executor over the embedded models.
func New(pool Pool, schemas Schemas, logger *zap.Logger) (*Executor, error) {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded models: %w", err)
	}
	return NewWithFS(pool, sub, schemas, logger)
}

// NewWithFS constructs an Executor reading <layer>/*.sql from fsys.
func NewWithFS(pool Pool, fsys fs.FS, schemas Schemas, logger *zap.Logger) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if err := schemas.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{pool: pool, fsys: fsys, schemas: schemas, logger: logger}, nil
}

// ApplyAll applies every layer in order. Failures are recorded and the
// remaining files still run, since most objects may already exist.
func (e *Executor) ApplyAll(ctx context.Context) Result {
	var res Result
	for _, layer := range Layers {
		res.Layers = append(res.Layers, e.ApplyLayer(ctx, layer))
	}
	return res
}

// ApplyLayer applies the files of one layer sorted by name.
func (e *Executor) ApplyLayer(ctx context.Context, layer string) LayerResult {
	res := LayerResult{Layer: layer}
	files, err := fs.Glob(e.fsys, path.Join(layer, "*.sql"))
	if err != nil {
		res.Err = fmt.Errorf("list %s models: %w", layer, err)
		return res
	}
	if len(files) == 0 {
		res.Err = fmt.Errorf("no models found for layer %s", layer)
		e.logger.Warn("no models for layer", zap.String("layer", layer))
		return res
	}
	sort.Strings(files)
	for _, file := range files {
		fr := FileResult{File: path.Base(file)}
		fr.Err = e.applyFile(ctx, file)
		if fr.Err != nil {
			e.logger.Error("model failed", zap.String("layer", layer), zap.String("file", fr.File), zap.Error(fr.Err))
		} else {
			e.logger.Info("model applied", zap.String("layer", layer), zap.String("file", fr.File))
		}
		res.Files = append(res.Files, fr)
	}
	return res
}

func (e *Executor) applyFile(ctx context.Context, file string) error {
	sql, err := e.Render(file)
	if err != nil {
		return err
	}
	// No arguments keeps pgx on the simple protocol, which allows several
	// statements per file.
	if _, err := e.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("execute %s: %w", path.Base(file), err)
	}
	return nil
}

// Render returns the SQL of file with schema names substituted.
func (e *Executor) Render(file string) (string, error) {
	raw, err := fs.ReadFile(e.fsys, file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	tmpl, err := template.New(path.Base(file)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", file, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e.schemas); err != nil {
		return "", fmt.Errorf("render %s: %w", file, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// VerifySchemas reports which configured schemas exist, with table and
// materialized view counts.
func (e *Executor) VerifySchemas(ctx context.Context) (map[string]SchemaInfo, error) {
	names := []string{e.schemas.Bronze, e.schemas.Silver, e.schemas.Gold}
	rows, err := e.pool.Query(ctx, `
SELECT schema_name FROM information_schema.schemata
WHERE schema_name = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	exists := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		exists[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}

	out := make(map[string]SchemaInfo, len(names))
	for _, name := range names {
		info := SchemaInfo{Exists: exists[name]}
		if info.Exists {
			if err := e.pool.QueryRow(ctx,
				`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1`, name,
			).Scan(&info.Tables); err != nil {
				return nil, fmt.Errorf("count tables in %s: %w", name, err)
			}
			if err := e.pool.QueryRow(ctx,
				`SELECT COUNT(*) FROM pg_matviews WHERE schemaname = $1`, name,
			).Scan(&info.MaterializedViews); err != nil {
				return nil, fmt.Errorf("count materialized views in %s: %w", name, err)
			}
		}
		out[name] = info
	}
	return out, nil
}
