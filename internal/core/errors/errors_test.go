package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "resource not found")
		if err.Error() != "[NOT_FOUND] resource not found" {
			t.Errorf("expected [NOT_FOUND] resource not found, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeInternal, "internal failure")
		expected := "[INTERNAL_ERROR] internal failure: original error"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeValidationError, "invalid input")
		if !IsCode(err, CodeValidationError) {
			t.Error("expected IsCode to return true for CodeValidationError")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeWithWrapped", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", Wrap(errors.New("disk"), CodeStoreUnavailable, "open"))
		if !IsStoreUnavailable(err) {
			t.Error("expected wrapped store unavailable error to match")
		}
		if CodeOf(err) != CodeStoreUnavailable {
			t.Errorf("expected CodeOf to be STORE_UNAVAILABLE, got %q", CodeOf(err))
		}
	})
}

func TestParseErrorCarriesPath(t *testing.T) {
	cause := errors.New("yaml: line 3: did not find expected key")
	err := ParseError("clients/acme/client_info.yaml", cause)
	if !IsParse(err) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be unwrappable")
	}
	path, ok := ContextValue(err, CtxPath)
	if !ok || path != "clients/acme/client_info.yaml" {
		t.Fatalf("expected path context, got %v (ok=%v)", path, ok)
	}
}

func TestPartialWriteContext(t *testing.T) {
	err := PartialWrite("requisition", "REQ-1", errors.New("database is locked"))
	if !IsPartialWrite(err) {
		t.Fatalf("expected partial write, got %v", err)
	}
	kind, _ := ContextValue(err, CtxKind)
	key, _ := ContextValue(err, CtxKey)
	if kind != "requisition" || key != "REQ-1" {
		t.Fatalf("unexpected context kind=%v key=%v", kind, key)
	}
}

func TestAddContextPromotesPlainErrors(t *testing.T) {
	err := AddContext(errors.New("boom"), CtxOperation, "scan")
	if !IsCode(err, CodeInternal) {
		t.Fatalf("expected internal code, got %v", err)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("expected empty code for plain error")
	}
}
