// Package store persists compiled shader bytecode and named material to
// shader mappings.
//
// The store is the read side of the asset pipeline: an external authoring
// step writes a SQLite database of shaders and materials, and the engine
// opens it read-only at startup. Shaders are identified by content hash, so
// duplicate rows carrying identical bytecode resolve to one identity.
//
// Schema (the persisted boundary; must remain query-compatible):
//
//	shader(id, stage, bytecode)
//	material(id, name)
//	shader_material(material_id, shader_id)
package store

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"

	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/internal/logging"
	"github.com/gogpu/forge/spirv"
)

// Schema is the material database DDL. At runtime the engine never writes;
// the schema is exported for authoring tools and test fixtures.
const Schema = `
CREATE TABLE IF NOT EXISTS shader (
	id       TEXT PRIMARY KEY,
	stage    TEXT NOT NULL,
	bytecode BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS material (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS shader_material (
	material_id INTEGER NOT NULL REFERENCES material(id),
	shader_id   TEXT NOT NULL REFERENCES shader(id),
	PRIMARY KEY (material_id, shader_id)
);
`

// resolveQuery joins materials to shaders through the association table.
// The CASE expression pins the canonical stage order: vertex, fragment,
// then anything else.
const resolveQuery = `
SELECT s.id, s.stage, s.bytecode
FROM shader s
JOIN shader_material sm ON sm.shader_id = s.id
JOIN material m ON m.id = sm.material_id
WHERE m.name = ?
ORDER BY CASE s.stage WHEN 'vertex' THEN 0 WHEN 'fragment' THEN 1 ELSE 2 END, s.id
`

// Store provides read-only access to the material database.
// The read path is safe for concurrent use across worker threads.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens the material database at path in read-only mode.
func Open(path string, log *slog.Logger) (*Store, error) {
	dsn := "file:" + url.PathEscape(path) + "?mode=ro"
	return OpenDSN(dsn, log)
}

// OpenDSN opens the material database from a raw DSN. Used by tests and
// tools that need an in-memory database.
func OpenDSN(dsn string, log *slog.Logger) (*Store, error) {
	log = logging.Or(log)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: open %q: %w", dsn, err)
	}
	log.Info("material store opened", "dsn", dsn)
	return &Store{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for authoring tools and test fixtures.
func (s *Store) DB() *sql.DB { return s.db }

// ShaderRef is one resolved shader of a material.
type ShaderRef struct {
	// ID is the shader's stable identity (content hash of the bytecode).
	ID string

	// Stage is the pipeline stage the shader serves.
	Stage gpucore.ShaderStage

	// Bytecode is the compiled SPIR-V blob.
	Bytecode []byte
}

// Blob returns the shader as a reflection input.
func (r ShaderRef) Blob() spirv.StageBlob {
	return spirv.StageBlob{ID: r.ID, Stage: r.Stage, Code: r.Bytecode}
}

// LoadShader loads one shader's bytecode by identity.
//
// Errors: gpucore.ErrNotFound if no row exists, gpucore.ErrCorrupt if the
// bytecode fails header validation.
func (s *Store) LoadShader(id string) ([]byte, error) {
	var code []byte
	err := s.db.QueryRow(`SELECT bytecode FROM shader WHERE id = ?`, id).Scan(&code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: shader %q: %w", id, gpucore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: shader %q: %w", id, err)
	}
	if err := spirv.ValidateHeader(code); err != nil {
		return nil, fmt.Errorf("store: shader %q: %w", id, err)
	}
	return code, nil
}

// ResolveMaterial returns the ordered shaders of a named material: vertex
// first, fragment second.
//
// Errors: gpucore.ErrNotFound if the name has no associated shaders,
// gpucore.ErrCorrupt if any blob fails header validation or the material
// does not carry exactly one shader per mandatory stage.
func (s *Store) ResolveMaterial(name string) ([]ShaderRef, error) {
	rows, err := s.db.Query(resolveQuery, name)
	if err != nil {
		return nil, fmt.Errorf("store: resolve %q: %w", name, err)
	}
	defer rows.Close()

	var (
		refs []ShaderRef
		seen = make(map[string]bool)
	)
	for rows.Next() {
		var (
			ref   ShaderRef
			stage string
		)
		if err := rows.Scan(&ref.ID, &stage, &ref.Bytecode); err != nil {
			return nil, fmt.Errorf("store: resolve %q: %w", name, err)
		}
		if seen[ref.ID] {
			// Duplicate association rows for one content hash collapse to
			// a single shader identity.
			continue
		}
		seen[ref.ID] = true
		ref.Stage, err = parseStage(stage)
		if err != nil {
			return nil, fmt.Errorf("store: resolve %q: %w", name, err)
		}
		if err := spirv.ValidateHeader(ref.Bytecode); err != nil {
			return nil, fmt.Errorf("store: resolve %q, shader %q: %w", name, ref.ID, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: resolve %q: %w", name, err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("store: material %q: %w", name, gpucore.ErrNotFound)
	}
	if err := checkMandatoryStages(name, refs); err != nil {
		return nil, err
	}
	s.log.Debug("material resolved", "name", name, "shaders", len(refs))
	return refs, nil
}

// Materials lists all material names, sorted.
func (s *Store) Materials() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM material ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list materials: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: list materials: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// checkMandatoryStages enforces that a material carries exactly one shader
// for each mandatory stage.
func checkMandatoryStages(name string, refs []ShaderRef) error {
	counts := make(map[gpucore.ShaderStage]int)
	for _, r := range refs {
		counts[r.Stage]++
	}
	for _, stage := range []gpucore.ShaderStage{gpucore.StageVertex, gpucore.StageFragment} {
		if n := counts[stage]; n != 1 {
			return fmt.Errorf("store: material %q has %d %s shaders, want 1: %w",
				name, n, stage, gpucore.ErrCorrupt)
		}
	}
	return nil
}

func parseStage(stage string) (gpucore.ShaderStage, error) {
	switch stage {
	case "vertex":
		return gpucore.StageVertex, nil
	case "fragment":
		return gpucore.StageFragment, nil
	case "compute":
		return gpucore.StageCompute, nil
	default:
		return 0, fmt.Errorf("unknown stage %q: %w", stage, gpucore.ErrCorrupt)
	}
}

// HashBytecode computes the stable content identity of a shader blob.
// Materials reference shaders by this hash, so identical bytecode stored
// twice resolves to one shader.
func HashBytecode(code []byte) string {
	h := fnv.New64a()
	h.Write(code)
	return fmt.Sprintf("%016x", h.Sum64())
}
