package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/sfnsim/internal/loader"
	"github.com/rendis/sfnsim/internal/validation"
	"github.com/rendis/sfnsim/pkg/schema"
)

func newValidateCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate <definition>...",
		Short: "Check definitions for structural and semantic errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dv, err := validation.NewDefinitionValidator()
			if err != nil {
				return err
			}

			results := make(map[string]*schema.ValidationResult, len(args))
			invalid := 0
			for _, path := range args {
				result, err := validateFile(dv, path)
				if err != nil {
					return err
				}
				results[path] = result
				if !result.Valid() {
					invalid++
				}
				if !asJSON {
					writeValidation(cmd.OutOrStdout(), path, result)
				}
			}

			if asJSON {
				if err := encodeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d definition(s) invalid", invalid, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

// validateFile validates the raw document so the structural stage sees
// fields the parser would drop.
func validateFile(dv *validation.DefinitionValidator, path string) (*schema.ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	doc, err := loader.ToJSON(data, loader.FormatFromPath(path))
	if err != nil {
		result := &schema.ValidationResult{}
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result, nil
	}
	_, result := dv.ValidateDocument(doc)
	return result, nil
}
