// Package archive persists named snapshots of the normalized annotation
// model in a local SQLite database. The snapshot payload is the same
// {classes, layers} document the JSON exporter emits.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sonocloud/sonoviewer/internal/models"
)

// Snapshot is one archived annotation state.
type Snapshot struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	CreatedAt time.Time                `json:"createdAt"`
	Classes   []models.AnnotationClass `json:"classes"`
	Layers    []models.AnnotationLayer `json:"layers"`
}

// Archive is a SQLite-backed snapshot store.
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("while opening archive database: %w", err)
	}
	if _, err := db.Exec(`
create table if not exists snapshots (
    id text unique primary key,
    name text not null,
    created_at text not null,
    classes text not null,
    layers text not null
)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("while creating table 'snapshots': %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Save archives the snapshot under a fresh UUID and returns the id.
func (a *Archive) Save(ctx context.Context, name string, classes []models.AnnotationClass, layers []models.AnnotationLayer) (string, error) {
	classesJSON, err := json.Marshal(classes)
	if err != nil {
		return "", fmt.Errorf("while encoding classes: %w", err)
	}
	layersJSON, err := json.Marshal(layers)
	if err != nil {
		return "", fmt.Errorf("while encoding layers: %w", err)
	}

	id := uuid.NewString()
	createdAt := time.Now().UTC().Format(time.RFC3339)
	_, err = a.db.ExecContext(ctx,
		`insert into snapshots (id, name, created_at, classes, layers) values (?, ?, ?, ?, ?)`,
		id, name, createdAt, string(classesJSON), string(layersJSON))
	if err != nil {
		return "", fmt.Errorf("while inserting snapshot: %w", err)
	}
	return id, nil
}

// Load retrieves one snapshot by id. sql.ErrNoRows when absent.
func (a *Archive) Load(ctx context.Context, id string) (*Snapshot, error) {
	row := a.db.QueryRowContext(ctx,
		`select id, name, created_at, classes, layers from snapshots where id = ?`, id)
	return scanSnapshot(row)
}

// List enumerates every snapshot, newest first, without payloads.
func (a *Archive) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := a.db.QueryContext(ctx,
		`select id, name, created_at from snapshots order by created_at desc, id`)
	if err != nil {
		return nil, fmt.Errorf("while listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snapshot Snapshot
		var createdAt string
		if err := rows.Scan(&snapshot.ID, &snapshot.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("while scanning snapshot row: %w", err)
		}
		snapshot.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// Delete removes one snapshot. Deleting an absent id is a no-op.
func (a *Archive) Delete(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, `delete from snapshots where id = ?`, id); err != nil {
		return fmt.Errorf("while deleting snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var snapshot Snapshot
	var createdAt, classesJSON, layersJSON string
	if err := row.Scan(&snapshot.ID, &snapshot.Name, &createdAt, &classesJSON, &layersJSON); err != nil {
		return nil, err
	}
	snapshot.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if err := json.Unmarshal([]byte(classesJSON), &snapshot.Classes); err != nil {
		return nil, fmt.Errorf("while decoding classes: %w", err)
	}
	if err := json.Unmarshal([]byte(layersJSON), &snapshot.Layers); err != nil {
		return nil, fmt.Errorf("while decoding layers: %w", err)
	}
	return &snapshot, nil
}
