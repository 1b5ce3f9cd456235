package slo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Load reads SLO documents from path, which may be a directory or a single file
func Load(path string) ([]SLOWithFile, []ValidationError) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, []ValidationError{{File: path, Message: fmt.Sprintf("failed to stat path: %v", err)}}
	}
	if info.IsDir() {
		return LoadFromDirectory(path)
	}
	return LoadFromFile(path)
}

// LoadFromDirectory discovers and loads all SLO files from a directory
func LoadFromDirectory(dirPath string) ([]SLOWithFile, []ValidationError) {
	var slos []SLOWithFile
	var loadErrors []ValidationError

	// Discover YAML files
	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		loadErrors = append(loadErrors, ValidationError{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		})
		return nil, loadErrors
	}

	for _, file := range files {
		docs, fileErrors := LoadFromFile(file)
		slos = append(slos, docs...)
		loadErrors = append(loadErrors, fileErrors...)
	}

	return slos, loadErrors
}

// LoadFromFile parses every YAML document in a single file. Files may hold
// several SLOs separated by "---".
func LoadFromFile(filePath string) ([]SLOWithFile, []ValidationError) {
	docs, err := parseYAMLFile(filePath)
	if err != nil {
		return nil, []ValidationError{{
			File:    filePath,
			Message: fmt.Sprintf("failed to parse YAML: %v", err),
		}}
	}
	return docs, nil
}

// discoverYAMLFiles finds all *.yaml and *.yml files in a directory
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	// Walk is lexical already, but keep the order explicit for reload determinism.
	sort.Strings(files)
	return files, err
}

// parseYAMLFile parses a YAML file into SLO structs, keeping the raw form of
// each document for schema validation
func parseYAMLFile(filePath string) ([]SLOWithFile, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []SLOWithFile
	decoder := yaml.NewDecoder(f)
	for {
		var node yaml.Node
		if err := decoder.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		var raw interface{}
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}

		var slo SLO
		if err := node.Decode(&slo); err != nil {
			return nil, err
		}
		docs = append(docs, SLOWithFile{SLO: &slo, File: filePath, Raw: raw})
	}

	return docs, nil
}
