package core

import (
	"testing"

	"carewatch/internal/types"
)

type listParams struct {
	Limit  int    `form:"limit" validate:"min=1,max=500"`
	Status string `json:"status" validate:"omitempty,oneof=open resolved"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator()

	if err := v.ValidateStruct(listParams{Limit: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := v.ValidateStruct(listParams{Limit: 0, Status: "archived"})
	if !types.IsCode(err, types.ErrCodeValidationInvalidField) {
		t.Fatalf("expected invalid field error, got %v", err)
	}

	appErr := err.(*types.AppError)
	fields, ok := appErr.Details["fields"].(map[string]any)
	if !ok {
		t.Fatalf("details = %v", appErr.Details)
	}
	if fields["limit"] != "min=1" {
		t.Errorf("limit rule = %v", fields["limit"])
	}
	if fields["status"] != "oneof=open resolved" {
		t.Errorf("status rule = %v", fields["status"])
	}
}

func TestValidator_NonStruct(t *testing.T) {
	err := NewValidator().ValidateStruct(42)
	if !types.IsCode(err, types.ErrCodeInternalUnexpected) {
		t.Errorf("expected internal error for non-struct input, got %v", err)
	}
}
