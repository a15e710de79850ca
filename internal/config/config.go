// Package config reads the server connection settings from the
// environment and optional annotation-category seed files.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sonocloud/sonoviewer/internal/models"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DICOMWebBase is the DICOMweb root, no trailing slash.
	DICOMWebBase string
	// RestBase is the management REST API root, no trailing slash.
	RestBase string
	Username string
	Password string

	// ArchivePath is the snapshot archive database location.
	ArchivePath string
	// ClassFile optionally seeds the category set from a YAML file.
	ClassFile string
}

// FromEnv builds the configuration from environment variables, with the
// stock local-Orthanc defaults.
func FromEnv() Config {
	return Config{
		DICOMWebBase: strings.TrimSuffix(envOr("DICOMWEB_BASE_URL", "http://localhost:8042/dicom-web"), "/"),
		RestBase:     strings.TrimSuffix(envOr("ORTHANC_REST_BASE", "http://localhost:8042"), "/"),
		Username:     envOr("DICOMWEB_USERNAME", "admin"),
		Password:     envOr("DICOMWEB_PASSWORD", "sonocloud2024"),
		ArchivePath:  envOr("SONOVIEWER_ARCHIVE", "snapshots.db"),
		ClassFile:    os.Getenv("SONOVIEWER_CLASSES"),
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// classEntry is one category in a YAML seed file.
type classEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Color   string `yaml:"color"`
	Visible *bool  `yaml:"visible"`
}

// LoadClasses reads a category seed file. An empty path yields the
// built-in default set. Entries without an id take the name as id;
// visibility defaults to true.
func LoadClasses(path string) ([]models.AnnotationClass, error) {
	if path == "" {
		return models.DefaultClasses(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("while reading class file: %w", err)
	}
	var entries []classEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("while parsing class file: %w", err)
	}

	classes := make([]models.AnnotationClass, 0, len(entries))
	for _, entry := range entries {
		id := entry.ID
		if id == "" {
			id = entry.Name
		}
		if id == "" {
			return nil, fmt.Errorf("class entry needs an id or name")
		}
		visible := true
		if entry.Visible != nil {
			visible = *entry.Visible
		}
		classes = append(classes, models.AnnotationClass{
			ID:      id,
			Name:    entry.Name,
			Color:   entry.Color,
			Visible: visible,
		})
	}
	return classes, nil
}
