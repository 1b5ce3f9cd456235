package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/samijaber1/aegis-budget/internal/slo"
)

func newValidateCommand() *cobra.Command {
	var dir, schema string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate SLO YAML files in a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, dir, schema)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory containing SLO YAML files")
	cmd.Flags().StringVar(&schema, "schema", "", "validate against this JSON schema file instead of the built-in v1 schema")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runValidate(cmd *cobra.Command, dirPath, schemaPath string) error {
	var (
		validator *slo.Validator
		err       error
	)
	if schemaPath != "" {
		validator, err = slo.NewValidatorFromFile(schemaPath)
	} else {
		validator, err = slo.NewValidator()
	}
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	errs := validator.ValidateDirectory(dirPath)
	if len(errs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ All SLO files are valid")
		return nil
	}

	// Group errors by file
	errorsByFile := make(map[string][]slo.ValidationError)
	for _, err := range errs {
		errorsByFile[err.File] = append(errorsByFile[err.File], err)
	}

	var files []string
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "✗ Validation failed with %d error(s):\n\n", len(errs))
	for _, file := range files {
		for _, err := range errorsByFile[file] {
			prefix := filepath.Base(err.File)
			if err.SLO != "" {
				prefix += " (" + err.SLO + ")"
			}
			if err.Path != "" {
				fmt.Fprintf(out, "%s: %s: %s\n", prefix, err.Path, err.Message)
			} else {
				fmt.Fprintf(out, "%s: %s\n", prefix, err.Message)
			}
		}
	}

	return exitError{code: 2, err: errors.New("SLO documents are invalid")}
}
