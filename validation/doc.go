// Package validation checks request parameters and command options with
// go-playground/validator struct tags and reports failures as AppErrors.
package validation
